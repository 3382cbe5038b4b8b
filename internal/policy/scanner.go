package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// Mode controls how scanner-internal errors are handled.
type Mode string

const (
	// ModeFailClosed blocks the request on any scanner error.
	ModeFailClosed Mode = "fail_closed"
	// ModeFailOpen logs and allows on scanner error. Only for deployments
	// that prioritize availability over strict DLP.
	ModeFailOpen Mode = "fail_open"
)

// Decision is the outcome of a scan. When blocked, only the rule id and a
// hash of the offending text survive; the text itself is discarded by the
// caller immediately.
type Decision struct {
	Allowed  bool
	RuleID   string
	TextHash string
}

// Scanner scans assembled prompts (pre) and upstream responses (post)
// against the active rule snapshot plus the builtin gitleaks detector.
type Scanner struct {
	snapshot atomic.Pointer[RuleSet]
	detector *detect.Detector
	mode     Mode
}

// NewScanner creates a scanner with an initial rule set.
func NewScanner(rules *RuleSet, mode Mode) (*Scanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build builtin secret detector: %w", err)
	}

	s := &Scanner{detector: detector, mode: mode}
	s.snapshot.Store(rules)
	return s, nil
}

// Swap atomically replaces the rule snapshot. In-flight scans keep the
// snapshot they already loaded.
func (s *Scanner) Swap(rules *RuleSet) {
	old := s.snapshot.Swap(rules)
	log.Info().
		Str("old_version", old.Version).
		Str("new_version", rules.Version).
		Int("rules", rules.Len()).
		Msg("policy rule set swapped")
}

// Current returns the active rule snapshot.
func (s *Scanner) Current() *RuleSet {
	return s.snapshot.Load()
}

// Scan checks text for the given phase. Rules apply independently pre and
// post: a request can pass pre-scan and still be blocked post-scan when the
// upstream response echoes a violating pattern.
func (s *Scanner) Scan(text string, phase Phase) Decision {
	rules := s.snapshot.Load()
	if rules == nil {
		return s.onScanError(text, fmt.Errorf("no rule snapshot loaded"))
	}

	for _, rule := range rules.rules {
		if rule.phase != PhaseBoth && rule.phase != phase {
			continue
		}
		if rule.re.MatchString(text) {
			return block(rule.id, text)
		}
	}

	// Builtin layer: gitleaks' default credential patterns.
	for _, finding := range s.detector.DetectString(text) {
		return block("builtin:"+finding.RuleID, text)
	}

	return Decision{Allowed: true}
}

// onScanError applies the configured failure mode.
func (s *Scanner) onScanError(text string, err error) Decision {
	if s.mode == ModeFailOpen {
		log.Error().Err(err).Msg("policy scan error, allowing (fail-open)")
		return Decision{Allowed: true}
	}
	log.Error().Err(err).Msg("policy scan error, blocking (fail-closed)")
	return block("scanner-error", text)
}

func block(ruleID, text string) Decision {
	return Decision{
		Allowed:  false,
		RuleID:   ruleID,
		TextHash: HashText(text),
	}
}

// HashText returns the hex SHA-256 digest retained for audit in place of
// blocked text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
