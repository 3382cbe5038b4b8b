// Package policy implements the DLP scanner: regex rules from a versioned
// rule file layered over gitleaks' builtin secret detection, applied pre-
// and post-call with configurable fail-open/fail-closed behavior.
package policy

import (
	"fmt"
	"regexp"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Phase is the scan phase a rule applies to.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
	PhaseBoth Phase = "both"
)

// Rule is one configured DLP rule as it appears in the rule file.
type Rule struct {
	ID        string `koanf:"id"`
	Pattern   string `koanf:"pattern"`
	Severity  string `koanf:"severity"`
	AppliesTo string `koanf:"applies_to"`
}

// ruleFile is the on-disk shape of the versioned rule set.
type ruleFile struct {
	Version string `koanf:"version"`
	Rules   []Rule `koanf:"rules"`
}

type compiledRule struct {
	id       string
	severity string
	phase    Phase
	re       *regexp.Regexp
}

// RuleSet is an immutable compiled snapshot of the rule file. In-flight
// requests hold one snapshot for their whole lifetime; reloads swap the
// pointer, never mutate.
type RuleSet struct {
	Version string
	rules   []compiledRule
}

// Len returns the number of compiled rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// LoadRuleFile reads and compiles the TOML rule file. Any invalid rule
// fails the whole load; a half-compiled rule set must never be served.
func LoadRuleFile(path string) (*RuleSet, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("error loading rule file: %w", err)
	}

	var rf ruleFile
	if err := k.Unmarshal("", &rf); err != nil {
		return nil, fmt.Errorf("error unmarshalling rule file: %w", err)
	}

	return compileRules(rf.Version, rf.Rules)
}

// DefaultRuleSet returns the built-in rule set used when no rule file is
// configured: key material and obvious credential shapes.
func DefaultRuleSet() *RuleSet {
	rs, err := compileRules("builtin-1", []Rule{
		{ID: "private-key", Pattern: `-----BEGIN (RSA |EC |DSA |OPENSSH |PGP |)?PRIVATE KEY(?: BLOCK)?-----`, Severity: "critical", AppliesTo: "both"},
		{ID: "aws-access-key", Pattern: `\b(AKIA|ASIA)[0-9A-Z]{16}\b`, Severity: "critical", AppliesTo: "both"},
		{ID: "bearer-token", Pattern: `(?i)authorization:\s*bearer\s+[a-z0-9._\-]{20,}`, Severity: "high", AppliesTo: "both"},
		{ID: "password-assignment", Pattern: `(?i)(password|passwd|secret)\s*[=:]\s*['"][^'"\s]{8,}['"]`, Severity: "medium", AppliesTo: "pre"},
	})
	if err != nil {
		// The builtin patterns are constants; a compile failure is a bug.
		panic(err)
	}
	return rs
}

func compileRules(version string, rules []Rule) (*RuleSet, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.ID == "" || r.Pattern == "" {
			return nil, fmt.Errorf("rule missing id or pattern")
		}

		phase := Phase(r.AppliesTo)
		switch phase {
		case PhasePre, PhasePost, PhaseBoth:
		case "":
			phase = PhaseBoth
		default:
			return nil, fmt.Errorf("rule %s: invalid applies_to %q", r.ID, r.AppliesTo)
		}

		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}

		compiled = append(compiled, compiledRule{
			id:       r.ID,
			severity: r.Severity,
			phase:    phase,
			re:       re,
		})
	}

	return &RuleSet{Version: version, rules: compiled}, nil
}
