package core

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed catalog_default.yaml
var defaultCatalogYAML []byte

// DefaultSpecialRules is used when the catalog cannot be loaded.
var DefaultSpecialRules = []string{"IO000", "IO111"}

// SpecialRuleSet holds the rule ids that extend the look-back window.
type SpecialRuleSet map[string]struct{}

// NewSpecialRuleSet builds a set from rule ids, trimming whitespace.
func NewSpecialRuleSet(ids ...string) SpecialRuleSet {
	set := make(SpecialRuleSet, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Contains reports whether the trimmed rule id is special.
func (s SpecialRuleSet) Contains(ruleID string) bool {
	_, ok := s[strings.TrimSpace(ruleID)]
	return ok
}

// IDs returns the sorted rule ids in the set.
func (s SpecialRuleSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RuleInfo describes a detection rule.
type RuleInfo struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Objectives  []string `yaml:"objectives"`
}

// catalogFile is the on-disk layout of the rule catalog.
type catalogFile struct {
	SpecialRules []string            `yaml:"special_rules"`
	Rules        map[string]RuleInfo `yaml:"rules"`
}

// RuleCatalog is the client-held rule lookup: which rules are special and
// what each rule's objectives and description are. It is immutable after
// construction and safe for concurrent use.
type RuleCatalog struct {
	special SpecialRuleSet
	rules   map[string]RuleInfo
}

// ParseRuleCatalog parses a YAML rule catalog.
func ParseRuleCatalog(data []byte) (*RuleCatalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule catalog: %w", err)
	}
	if len(file.SpecialRules) == 0 {
		file.SpecialRules = DefaultSpecialRules
	}
	rules := make(map[string]RuleInfo, len(file.Rules))
	for id, info := range file.Rules {
		rules[strings.TrimSpace(id)] = info
	}
	return &RuleCatalog{
		special: NewSpecialRuleSet(file.SpecialRules...),
		rules:   rules,
	}, nil
}

// DefaultRuleCatalog returns the catalog compiled into the binary.
func DefaultRuleCatalog() *RuleCatalog {
	catalog, err := ParseRuleCatalog(defaultCatalogYAML)
	if err != nil {
		return &RuleCatalog{
			special: NewSpecialRuleSet(DefaultSpecialRules...),
			rules:   map[string]RuleInfo{},
		}
	}
	return catalog
}

// LoadRuleCatalog loads the catalog from path. An empty path selects the
// built-in catalog. Read or parse failures are logged and fall back to the
// built-in catalog so that a broken file never blocks a search.
func LoadRuleCatalog(path string, logger *zap.SugaredLogger) *RuleCatalog {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if path == "" {
		return DefaultRuleCatalog()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warnw("Failed to read rule catalog, using built-in defaults",
			"path", path,
			"error", err)
		return DefaultRuleCatalog()
	}

	catalog, err := ParseRuleCatalog(data)
	if err != nil {
		logger.Warnw("Failed to parse rule catalog, using built-in defaults",
			"path", path,
			"error", err)
		return DefaultRuleCatalog()
	}

	logger.Infow("Rule catalog loaded",
		"path", path,
		"rules", len(catalog.rules),
		"special_rules", catalog.special.IDs())
	return catalog
}

// SpecialRules returns the special rule set.
func (c *RuleCatalog) SpecialRules() SpecialRuleSet {
	return c.special
}

// WithSpecialRules returns a copy of the catalog using ids as the special
// rule set. An empty list returns c unchanged.
func (c *RuleCatalog) WithSpecialRules(ids ...string) *RuleCatalog {
	set := NewSpecialRuleSet(ids...)
	if len(set) == 0 {
		return c
	}
	return &RuleCatalog{special: set, rules: c.rules}
}

// Rule returns the catalog entry for a rule id.
func (c *RuleCatalog) Rule(ruleID string) (RuleInfo, bool) {
	info, ok := c.rules[strings.TrimSpace(ruleID)]
	return info, ok
}

// ObjectivesTable builds the rule objectives section for the given rule
// ids, one row per objective. Rules without objectives are omitted.
func (c *RuleCatalog) ObjectivesTable(ruleIDs []string) *Table {
	t := &Table{Columns: []string{ColRuleID, "RULE_NAME", "OBJECTIVE"}, Rows: [][]any{}}
	for _, id := range ruleIDs {
		info, ok := c.Rule(id)
		if !ok {
			continue
		}
		for _, objective := range info.Objectives {
			t.Rows = append(t.Rows, []any{id, info.Name, objective})
		}
	}
	return t
}

// DescriptionTable builds the rule description section. Names found in the
// alert rows take precedence over the catalog name.
func (c *RuleCatalog) DescriptionTable(ruleIDs []string, alertNames map[string]string) *Table {
	t := &Table{Columns: []string{ColRuleID, "RULE_NAME", "DESCRIPTION"}, Rows: [][]any{}}
	for _, id := range ruleIDs {
		info, _ := c.Rule(id)
		name := alertNames[id]
		if name == "" {
			name = info.Name
		}
		var desc any
		if info.Description != "" {
			desc = info.Description
		}
		t.Rows = append(t.Rows, []any{id, name, desc})
	}
	return t
}
