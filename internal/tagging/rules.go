package tagging

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/money"
)

// Direction limits a rule to money in or money out.
type Direction string

const (
	DirectionAny Direction = ""
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Rule tags a transaction when every configured criterion matches. Amounts
// are compared against the absolute paid in or paid out value.
type Rule struct {
	Tag       string    `yaml:"tag"`
	Contains  []string  `yaml:"contains"`
	Pattern   string    `yaml:"pattern"`
	Direction Direction `yaml:"direction"`
	MinAmount string    `yaml:"min_amount"`
	MaxAmount string    `yaml:"max_amount"`
}

// RuleSet is the on-disk rules file.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

type compiledRule struct {
	tag       string
	contains  []string
	pattern   *regexp.Regexp
	direction Direction
	min, max  *int64
}

// RuleTagger applies a fixed rule set to candidates.
type RuleTagger struct {
	rules []compiledRule
	tags  TagLister
}

// LoadRulesFile reads a YAML rules file.
//
// Example rules.yaml:
//
//	rules:
//	  - tag: groceries
//	    contains: [tesco, sainsbury]
//	    direction: out
//	  - tag: salary
//	    pattern: '^ACME LTD'
//	    direction: in
//	    min_amount: "1000.00"
func LoadRulesFile(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRulesFile: %w", err)
	}
	defer f.Close()
	return LoadRules(f)
}

// LoadRules decodes a YAML rule set.
func LoadRules(r io.Reader) (*RuleSet, error) {
	var rs RuleSet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("LoadRules: decode: %w", err)
	}
	return &rs, nil
}

// NewRuleTagger compiles rs. Tag names are resolved to ids per user at
// suggestion time; rules naming a tag the user does not have are skipped.
func NewRuleTagger(rs *RuleSet, tags TagLister) (*RuleTagger, error) {
	rt := &RuleTagger{tags: tags}
	for i, r := range rs.Rules {
		cr, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("NewRuleTagger: rule %d (%s): %w", i+1, r.Tag, err)
		}
		rt.rules = append(rt.rules, cr)
	}
	return rt, nil
}

func compileRule(r Rule) (compiledRule, error) {
	cr := compiledRule{tag: normalizeName(r.Tag), direction: r.Direction}
	if cr.tag == "" {
		return cr, fmt.Errorf("tag is required")
	}
	switch r.Direction {
	case DirectionAny, DirectionIn, DirectionOut:
	default:
		return cr, fmt.Errorf("direction %q must be in, out or empty", r.Direction)
	}
	if len(r.Contains) == 0 && r.Pattern == "" {
		return cr, fmt.Errorf("contains or pattern is required")
	}
	for _, c := range r.Contains {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			cr.contains = append(cr.contains, c)
		}
	}
	if r.Pattern != "" {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return cr, fmt.Errorf("pattern: %w", err)
		}
		cr.pattern = re
	}

	var err error
	if cr.min, err = money.Parse(r.MinAmount); err != nil {
		return cr, fmt.Errorf("min_amount %q: %w", r.MinAmount, err)
	}
	if cr.max, err = money.Parse(r.MaxAmount); err != nil {
		return cr, fmt.Errorf("max_amount %q: %w", r.MaxAmount, err)
	}
	return cr, nil
}

func (r compiledRule) matches(c *domain.TransactionCandidate) bool {
	var amount *int64
	switch {
	case c.PaidOut != nil && *c.PaidOut != 0:
		if r.direction == DirectionIn {
			return false
		}
		amount = c.PaidOut
	case c.PaidIn != nil:
		if r.direction == DirectionOut {
			return false
		}
		amount = c.PaidIn
	default:
		if r.direction != DirectionAny {
			return false
		}
	}

	if r.min != nil && (amount == nil || *amount < *r.min) {
		return false
	}
	if r.max != nil && (amount == nil || *amount > *r.max) {
		return false
	}

	desc := strings.ToLower(c.Description)
	if len(r.contains) > 0 {
		found := false
		for _, needle := range r.contains {
			if strings.Contains(desc, needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if r.pattern != nil && !r.pattern.MatchString(c.Description) {
		return false
	}
	return true
}

// SuggestTags implements Suggester.
func (rt *RuleTagger) SuggestTags(ctx context.Context, userID string, candidates []*domain.TransactionCandidate) error {
	if len(rt.rules) == 0 {
		return nil
	}
	idx, err := loadTagIndex(ctx, rt.tags, userID)
	if err != nil {
		return fmt.Errorf("RuleTagger.SuggestTags: %w", err)
	}

	applied := 0
	for _, c := range candidates {
		for _, r := range rt.rules {
			id, ok := idx[r.tag]
			if !ok || !r.matches(c) {
				continue
			}
			addTag(c, id)
			applied++
		}
	}
	log := logger.FromContext(ctx)
	log.Debug().Int("applied", applied).Int("candidates", len(candidates)).Msg("Applied tag rules")
	return nil
}
