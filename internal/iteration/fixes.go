package iteration

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"crucible/internal/logging"
)

// FixSource distinguishes where a candidate fix came from.
type FixSource string

const (
	FixSourceKnowledge FixSource = "knowledge" // retrieved from the knowledge store
	FixSourceGeneric   FixSource = "generic"   // derived from the rule table
)

// GenericFixConfidence is the confidence assigned to rule-table fixes.
// Low by construction: a shape-matched hint is a guess, not a learned fix.
const GenericFixConfidence = 0.3

// Fix is one candidate fix accumulated across attempts.
type Fix struct {
	ErrorID    string    `json:"error_id"`
	EntryID    string    `json:"entry_id,omitempty"` // knowledge entry behind the fix, if any
	Solution   string    `json:"solution"`
	Confidence float64   `json:"confidence"` // 0-1
	Source     FixSource `json:"source"`
	applied    bool
}

// FixRule maps an error shape onto a generic hint. Rules are checked in
// order against the normalized signature.
type FixRule struct {
	Pattern string `yaml:"pattern"`
	Hint    string `yaml:"hint"`
}

// RuleTable is a YAML-definable set of generic fix rules.
type RuleTable struct {
	Version int       `yaml:"version"`
	Rules   []FixRule `yaml:"rules"`
}

// DefaultRuleTable returns the compiled-in rules.
func DefaultRuleTable() *RuleTable {
	return &RuleTable{
		Version: 1,
		Rules: []FixRule{
			{Pattern: "cannot resolve module", Hint: "install the missing dependency%s and rebuild"},
			{Pattern: "module not found", Hint: "install the missing dependency%s and rebuild"},
			{Pattern: "cannot find module", Hint: "install the missing dependency%s and rebuild"},
			{Pattern: "unexpected token", Hint: "re-generate the affected file; the syntax is malformed"},
			{Pattern: "syntax error", Hint: "re-generate the affected file; the syntax is malformed"},
			{Pattern: "is not defined", Hint: "add the missing import or declaration for the undefined symbol"},
			{Pattern: "is not a function", Hint: "check the API shape; the symbol exists but is not callable"},
			{Pattern: "cannot use import statement", Hint: "align the module system: set type=module or convert to require"},
			{Pattern: "require is not defined", Hint: "align the module system: set type=module or convert to require"},
			{Pattern: "connection refused", Hint: "start the expected local service or stub the endpoint"},
			{Pattern: "econnrefused", Hint: "start the expected local service or stub the endpoint"},
			{Pattern: "timeout", Hint: "increase the operation timeout or remove blocking work"},
		},
	}
}

// LoadRuleTable reads a YAML rule table from disk.
func LoadRuleTable(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var table RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse fix rule table: %w", err)
	}
	if len(table.Rules) == 0 {
		return nil, fmt.Errorf("fix rule table %s contains no rules", path)
	}
	return &table, nil
}

var quotedModuleRe = regexp.MustCompile(`module '([^']+)'|module "([^"]+)"`)

// Derive produces a low-confidence generic fix for an error the knowledge
// store had nothing for, or nil when no rule matches. The raw message is
// consulted only to recover the module name for install hints.
func (t *RuleTable) Derive(signature, rawMessage string) *Fix {
	for _, rule := range t.Rules {
		if !strings.Contains(signature, rule.Pattern) {
			continue
		}

		hint := rule.Hint
		if strings.Contains(hint, "%s") {
			name := ""
			if m := quotedModuleRe.FindStringSubmatch(rawMessage); m != nil {
				for _, g := range m[1:] {
					if g != "" {
						name = " " + g
					}
				}
			}
			hint = fmt.Sprintf(hint, name)
		}

		logging.IterationDebug("Generic fix for %q: %s", signature, hint)
		return &Fix{
			Solution:   hint,
			Confidence: GenericFixConfidence,
			Source:     FixSourceGeneric,
		}
	}
	return nil
}

// selectFixes picks the highest-confidence unapplied fixes above the
// confidence floor, up to limit. The returned fixes are marked applied.
func selectFixes(pending []*Fix, limit int, minConfidence float64) []Fix {
	candidates := make([]*Fix, 0, len(pending))
	for _, f := range pending {
		if !f.applied && f.Confidence > minConfidence {
			candidates = append(candidates, f)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	selected := make([]Fix, len(candidates))
	for i, f := range candidates {
		f.applied = true
		selected[i] = *f
	}
	return selected
}
