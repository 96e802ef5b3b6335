package normalize

import "regexp"

// RuleShortener applies an ordered, fixed list of reversible-intent
// shortenings: filler-word removal first, then common-phrase contractions.
// The order never changes, so the same input always yields the same output.
type RuleShortener struct {
	fillers      *regexp.Regexp
	contractions []contraction
}

type contraction struct {
	re   *regexp.Regexp
	with string
}

var defaultFillers = regexp.MustCompile(`(?i) (really|actually|basically|literally)\b`)

// Longest phrases first so "will not" wins over a later "not" rule if one is
// ever added.
var defaultContractions = []contraction{
	{regexp.MustCompile(`(?i)\bwill not\b`), "won't"},
	{regexp.MustCompile(`(?i)\byou are\b`), "you're"},
	{regexp.MustCompile(`(?i)\bthat is\b`), "that's"},
	{regexp.MustCompile(`(?i)\bbecause\b`), "bc"},
	{regexp.MustCompile(`(?i)\bcannot\b`), "can't"},
	{regexp.MustCompile(`(?i)\bit is\b`), "it's"},
}

func NewRuleShortener() *RuleShortener {
	return &RuleShortener{fillers: defaultFillers, contractions: defaultContractions}
}

func (r *RuleShortener) Shorten(content string) string {
	out := r.fillers.ReplaceAllString(content, "")
	for _, c := range r.contractions {
		out = c.re.ReplaceAllString(out, c.with)
	}
	return out
}
