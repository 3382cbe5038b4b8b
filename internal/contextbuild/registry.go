package contextbuild

import (
	"strings"

	"github.com/promptgate/internal/gateerr"
	"github.com/promptgate/pkg/models"
)

// actionTemplate is one versioned template pair for a mediated action.
type actionTemplate struct {
	Version int
	System  string
	User    string
}

// Registry stores versioned prompt templates keyed by action identifier.
// Read-only after construction.
type Registry struct {
	templates map[string]actionTemplate
}

// NewRegistry returns the registry with the built-in template set.
func NewRegistry() *Registry {
	return &Registry{
		templates: map[string]actionTemplate{
			"generate": {Version: 2, System: AssistantRole, User: generateUserTemplate},
			"chat":     {Version: 2, System: AssistantRole, User: generateUserTemplate},
			"edit":     {Version: 1, System: EditRole, User: editUserTemplate},
			"explain":  {Version: 1, System: SearchRole, User: searchUserTemplate},
			"search":   {Version: 1, System: SearchRole, User: searchUserTemplate},
			"complete": {Version: 1, System: AssistantRole, User: completeUserTemplate},
		},
	}
}

// Actions lists the known action identifiers.
func (r *Registry) Actions() []string {
	actions := make([]string, 0, len(r.templates))
	for action := range r.templates {
		actions = append(actions, action)
	}
	return actions
}

// Has reports whether action has a registered template.
func (r *Registry) Has(action string) bool {
	_, ok := r.templates[action]
	return ok
}

// Render produces the system+user message pair for an action. Variables are
// substituted in one pass as opaque strings. Unknown action fails closed
// with TemplateNotFound.
func (r *Registry) Render(action string, vars map[string]string) ([]models.PromptMessage, error) {
	tmpl, ok := r.templates[action]
	if !ok {
		return nil, gateerr.TemplateNotFound(action)
	}

	return []models.PromptMessage{
		{Role: models.RoleSystem, Content: substitute(tmpl.System, vars)},
		{Role: models.RoleUser, Content: substitute(tmpl.User, vars)},
	}, nil
}

// substitute replaces {{name}} placeholders with values in a single pass.
// strings.Replacer never rescans replacement text, so values containing
// placeholder syntax stay inert.
func substitute(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
