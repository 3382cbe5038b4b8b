package contextbuild

import (
	"sort"
	"strings"

	"github.com/promptgate/pkg/models"
)

// TruncationMarker is appended to any content cut at a line boundary.
const TruncationMarker = "\n[... truncated ...]"

// markerAllowance is reserved out of the budget up front so appended
// markers can never push the assembled prompt over the ceiling.
const markerAllowance = 256

// packingPolicy tunes how aggressively a task type packs retrieval items.
type packingPolicy struct {
	// perFileChunkChars caps how much of a single retrieved file may be used.
	perFileChunkChars int
	// maxRetrievalItems caps how many retrieval items are considered at all.
	maxRetrievalItems int
}

// packingPolicies is the closed policy table keyed by task type.
// Autocomplete packs tight (latency-sensitive); bugfix and refactor get
// the roomiest retrieval windows.
var packingPolicies = map[models.TaskType]packingPolicy{
	models.TaskAutocomplete: {perFileChunkChars: 1024, maxRetrievalItems: 4},
	models.TaskRefactor:     {perFileChunkChars: 4096, maxRetrievalItems: 12},
	models.TaskBugfix:       {perFileChunkChars: 4096, maxRetrievalItems: 12},
	models.TaskExplain:      {perFileChunkChars: 3072, maxRetrievalItems: 8},
	models.TaskSearch:       {perFileChunkChars: 2048, maxRetrievalItems: 10},
	models.TaskChat:         {perFileChunkChars: 2048, maxRetrievalItems: 8},
}

// Budget bounds the assembled prompt. Whichever of the two ceilings binds
// first wins; tokens are estimated at four characters apiece.
type Budget struct {
	MaxTokens int
	MaxChars  int
}

// EffectiveChars returns the binding character ceiling.
func (b Budget) EffectiveChars() int {
	chars := b.MaxChars
	tokenChars := b.MaxTokens * 4
	if chars <= 0 {
		chars = tokenChars
	}
	if tokenChars > 0 && tokenChars < chars {
		chars = tokenChars
	}
	return chars
}

// EstimateTokens is the chars/4 token heuristic used across the gateway.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// PackResult is the packed context plus packing metadata.
type PackResult struct {
	Sections    []string
	SourcePaths []string
	Truncated   bool
	CharsUsed   int
}

// Pack assembles collected items into budgeted context sections. It never
// fails: when the budget is too small the result is simply less context.
//
// The current file is reserved first. If it alone exceeds the budget it is
// truncated by whole lines from the end with a marker, and retrieval items
// are skipped entirely. Otherwise retrieval items are appended in descending
// relevance under a per-task chunk cap until the budget runs out; an
// overflowing item is skipped or line-truncated, never cut mid-token.
func Pack(taskType models.TaskType, current *Item, retrieved []Item, budget Budget) PackResult {
	policy, ok := packingPolicies[taskType]
	if !ok {
		policy = packingPolicies[models.TaskChat]
	}

	limit := budget.EffectiveChars()
	if limit <= 0 {
		// Absent or legacy budgets must not break chat.
		limit = 32768
	}
	remaining := limit - markerAllowance
	if remaining < 0 {
		remaining = 0
	}

	result := PackResult{}

	if current != nil {
		content := current.Content
		if len(content) > remaining {
			content = truncateLines(content, remaining)
			result.Truncated = true
			result.addSection(current.Source.Path, content+TruncationMarker)
			// Current file consumed everything; retrieval is skipped.
			return result
		}
		result.addSection(current.Source.Path, content)
		remaining -= len(content)
		if current.Truncated {
			result.Truncated = true
		}
	}

	// Highest relevance first; stable so equal scores keep request order.
	sorted := make([]Item, len(retrieved))
	copy(sorted, retrieved)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	count := 0
	for _, item := range sorted {
		if count >= policy.maxRetrievalItems || remaining <= 0 {
			break
		}

		content := item.Content
		if len(content) > policy.perFileChunkChars {
			content = truncateLines(content, policy.perFileChunkChars) + TruncationMarker
			result.Truncated = true
		}

		if len(content) > remaining {
			// Prefer skipping when a later, smaller item may still fit whole;
			// truncate only when nothing whole can follow.
			if anySmaller(sorted, remaining) {
				continue
			}
			content = truncateLines(content, remaining)
			if content == "" {
				break
			}
			content += TruncationMarker
			result.Truncated = true
		}

		result.addSection(item.Source.Path, content)
		remaining -= len(content)
		count++
	}

	return result
}

func (r *PackResult) addSection(path, content string) {
	r.Sections = append(r.Sections, content)
	r.SourcePaths = append(r.SourcePaths, path)
	r.CharsUsed += len(content)
}

// truncateLines cuts content to at most max bytes at a line boundary,
// dropping lines from the end.
func truncateLines(content string, max int) string {
	if len(content) <= max {
		return content
	}
	if max <= 0 {
		return ""
	}
	cut := content[:max]
	idx := strings.LastIndexByte(cut, '\n')
	if idx <= 0 {
		// No line boundary fits; drop the item rather than cut mid-token.
		return ""
	}
	return cut[:idx]
}

func anySmaller(items []Item, remaining int) bool {
	for _, item := range items {
		if len(item.Content) > 0 && len(item.Content) <= remaining {
			return true
		}
	}
	return false
}
