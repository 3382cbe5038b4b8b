package contextbuild

// Template bodies for each mediated action. Placeholders use {{name}} and
// are substituted in a single pass; inserted values are opaque data and are
// never re-scanned for template syntax.

// System role definitions
const (
	// AssistantRole is the default system role for generate/chat actions
	AssistantRole = `You are a coding assistant working inside a locked-down workspace. Use only the provided context. Never invent file paths or claim access to files outside the context below.`

	// EditRole is the system role for actions that produce code edits
	EditRole = `You are a coding assistant that proposes precise code edits. Respond with a unified diff against the files in the provided context and nothing else.`

	// SearchRole is the system role for search/explain style actions
	SearchRole = `You are a coding assistant answering questions about a codebase. Ground every statement in the provided context and cite file paths.`
)

// User-message skeletons
const (
	generateUserTemplate = `{{instruction}}

Context:
{{context}}`

	editUserTemplate = `Requested change: {{instruction}}

Current code:
{{context}}`

	searchUserTemplate = `Question: {{instruction}}

Relevant code:
{{context}}`

	completeUserTemplate = `Complete the code at the cursor position.

{{context}}`
)
