package contextbuild

import (
	"strings"

	"github.com/promptgate/pkg/models"
)

// Signals are the request features the classifier looks at. Classification
// is advisory input to packing policy only; it never changes what a request
// is allowed to touch.
type Signals struct {
	Instruction  string
	HasFile      bool
	HasSelection bool
	CursorOnly   bool
	Explicit     models.TaskType
}

var refactorKeywords = []string{"refactor", "rename", "extract", "restructure", "clean up", "simplify"}
var bugfixKeywords = []string{"fix", "bug", "crash", "error", "broken", "fail", "panic", "exception"}
var explainKeywords = []string{"explain", "what does", "how does", "why does", "describe", "document"}

// Classify labels a request with a task type using a deterministic
// heuristic. An explicit client-supplied task type always wins.
func Classify(s Signals) models.TaskType {
	if s.Explicit != "" {
		if _, ok := packingPolicies[s.Explicit]; ok {
			return s.Explicit
		}
	}

	instruction := strings.ToLower(strings.TrimSpace(s.Instruction))

	// Cursor position with no instruction is a completion request.
	if instruction == "" && s.CursorOnly {
		return models.TaskAutocomplete
	}

	if s.HasFile || s.HasSelection {
		if containsAny(instruction, bugfixKeywords) {
			return models.TaskBugfix
		}
		if containsAny(instruction, refactorKeywords) {
			return models.TaskRefactor
		}
		if containsAny(instruction, explainKeywords) {
			return models.TaskExplain
		}
		if instruction == "" {
			return models.TaskAutocomplete
		}
		return models.TaskRefactor
	}

	// No file in play: short queries read as search, anything longer as chat.
	if instruction != "" && len(strings.Fields(instruction)) <= 6 {
		return models.TaskSearch
	}

	return models.TaskChat
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
