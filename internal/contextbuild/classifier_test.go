package contextbuild

import (
	"testing"

	"github.com/promptgate/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		signals  Signals
		expected models.TaskType
	}{
		{
			name:     "explicit type wins",
			signals:  Signals{Instruction: "fix the crash", HasFile: true, Explicit: models.TaskChat},
			expected: models.TaskChat,
		},
		{
			name:     "unknown explicit type falls back to heuristic",
			signals:  Signals{Instruction: "fix the crash", HasFile: true, Explicit: "wizardry"},
			expected: models.TaskBugfix,
		},
		{
			name:     "cursor only is autocomplete",
			signals:  Signals{CursorOnly: true},
			expected: models.TaskAutocomplete,
		},
		{
			name:     "file plus bugfix wording",
			signals:  Signals{Instruction: "this function panics on nil input", HasFile: true},
			expected: models.TaskBugfix,
		},
		{
			name:     "selection plus refactor wording",
			signals:  Signals{Instruction: "extract this into a helper", HasSelection: true},
			expected: models.TaskRefactor,
		},
		{
			name:     "file plus explain wording",
			signals:  Signals{Instruction: "explain what this loop does", HasFile: true},
			expected: models.TaskExplain,
		},
		{
			name:     "file with no instruction",
			signals:  Signals{HasFile: true},
			expected: models.TaskAutocomplete,
		},
		{
			name:     "short query without file is search",
			signals:  Signals{Instruction: "websocket handshake retry"},
			expected: models.TaskSearch,
		},
		{
			name:     "long query without file is chat",
			signals:  Signals{Instruction: "can you walk me through how the deployment pipeline promotes builds between environments"},
			expected: models.TaskChat,
		},
		{
			name:     "empty request is chat",
			signals:  Signals{},
			expected: models.TaskChat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.signals); got != tt.expected {
				t.Errorf("Classify() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	s := Signals{Instruction: "fix the broken rename logic", HasFile: true}
	first := Classify(s)
	for i := 0; i < 10; i++ {
		if got := Classify(s); got != first {
			t.Fatalf("classification changed between calls: %v then %v", first, got)
		}
	}
}
