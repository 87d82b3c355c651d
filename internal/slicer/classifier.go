package slicer

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MatchKind tags the variant of a Classification.
type MatchKind int

const (
	MatchFound MatchKind = iota
	NoMatch
	AmbiguousMatch
)

func (k MatchKind) String() string {
	switch k {
	case MatchFound:
		return "match"
	case NoMatch:
		return "no-match"
	case AmbiguousMatch:
		return "ambiguous"
	default:
		return fmt.Sprintf("MatchKind(%d)", int(k))
	}
}

// Classification is the result of matching page text against the rule set.
// Rule is set only for MatchFound, Candidates only for AmbiguousMatch.
type Classification struct {
	Kind       MatchKind
	Rule       RecipientRule
	Candidates []string
}

// Classify selects every rule whose keyword is a literal, case-sensitive
// substring of text. Ambiguity is never resolved by rule order.
func Classify(text string, rules []RecipientRule) Classification {
	var matches []RecipientRule
	for _, rule := range rules {
		if strings.Contains(text, rule.Keyword) {
			matches = append(matches, rule)
		}
	}

	switch len(matches) {
	case 0:
		return Classification{Kind: NoMatch}
	case 1:
		return Classification{Kind: MatchFound, Rule: matches[0]}
	default:
		keywords := make([]string, len(matches))
		for i, m := range matches {
			keywords[i] = m.Keyword
		}
		return Classification{Kind: AmbiguousMatch, Candidates: keywords}
	}
}

// pathChars may not appear in keywords, which become part of artifact file names
const pathChars = "/\\" + string(filepath.Separator) + "\x00"

// ValidateRules checks that every keyword is non-empty, unique and usable
// as part of a file name.
func ValidateRules(rules []RecipientRule) error {
	seen := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		if rule.Keyword == "" {
			return fmt.Errorf("%w: rule %d has an empty keyword", ErrInvalidRules, i)
		}
		if strings.ContainsAny(rule.Keyword, pathChars) {
			return fmt.Errorf("%w: keyword %q contains a path separator", ErrInvalidRules, rule.Keyword)
		}
		if _, ok := seen[rule.Keyword]; ok {
			return fmt.Errorf("%w: duplicate keyword %q", ErrInvalidRules, rule.Keyword)
		}
		seen[rule.Keyword] = struct{}{}
	}
	return nil
}
