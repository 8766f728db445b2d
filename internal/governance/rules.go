// Package governance evaluates agent tool calls against project rules and
// records every evaluation in the audit log. In observe mode matches are
// logged but never blocked; enforce mode returns deny envelopes the agent
// honors.
package governance

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"oakci/internal/logging"
)

// Rule actions. ActionObserve is never written in a rules file; it is the
// recorded outcome when observe mode downgrades a deny or warn match.
const (
	ActionAllow   = "allow"
	ActionDeny    = "deny"
	ActionWarn    = "warn"
	ActionObserve = "observe"
)

// Rule is one governance rule from the rules file. A rule matches when the
// tool name matches one of Tools (glob) and every pattern kind the rule
// specifies matches: some input pattern when Patterns is set, and some path
// pattern when PathPatterns is set.
type Rule struct {
	ID           string   `yaml:"id"`
	Description  string   `yaml:"description,omitempty"`
	Tools        []string `yaml:"tools"`
	Action       string   `yaml:"action"`
	Patterns     []string `yaml:"patterns,omitempty"`
	PathPatterns []string `yaml:"path_patterns,omitempty"`
	Reason       string   `yaml:"reason,omitempty"`

	compiled []*regexp.Regexp
}

// RuleSet is the parsed rules file.
type RuleSet struct {
	Version int    `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// LoadRules reads and compiles the rules file. A missing file yields an
// empty set. Rules with an invalid regex are kept with that pattern skipped
// so one typo does not disable the whole rule.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RuleSet{}, nil
		}
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if rule.Action == "" {
			rule.Action = ActionDeny
		}
		if !validAction(rule.Action) {
			logging.Get(logging.CategoryGovernance).Warn(
				"rule %s has unknown action %q, treating as warn", rule.ID, rule.Action)
			rule.Action = ActionWarn
		}
		for _, p := range rule.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				logging.Get(logging.CategoryGovernance).Warn(
					"rule %s: skipping invalid pattern %q: %v", rule.ID, p, err)
				continue
			}
			rule.compiled = append(rule.compiled, re)
		}
	}
	logging.Governance("Loaded %d governance rules from %s", len(rs.Rules), path)
	return &rs, nil
}

func validAction(a string) bool {
	return a == ActionAllow || a == ActionDeny || a == ActionWarn
}

// matchesTool reports whether the rule applies to a tool name.
func (r *Rule) matchesTool(toolName string) bool {
	if len(r.Tools) == 0 {
		return true
	}
	for _, pattern := range r.Tools {
		if ok, _ := filepath.Match(pattern, toolName); ok {
			return true
		}
	}
	return false
}

// matchInput returns the first matching input pattern, if any.
func (r *Rule) matchInput(input string) (string, bool) {
	for _, re := range r.compiled {
		if re.MatchString(input) {
			return re.String(), true
		}
	}
	return "", false
}

// matchPath returns the first matching path pattern, if any. Patterns match
// against the full relative path and against its base name.
func (r *Rule) matchPath(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	for _, pattern := range r.PathPatterns {
		if ok, _ := filepath.Match(pattern, path); ok {
			return pattern, true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			return pattern, true
		}
	}
	return "", false
}
