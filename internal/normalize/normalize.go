// Package normalize makes raw content items fit platform constraints before
// scheduling: deterministic shortening, tag capping, a sequence indicator on
// the lead item, and an advisory engagement score.
//
// Normalize is a pure function of its input: the same drafts always yield the
// same posts, and normalizing already-normalized content is a no-op. The
// shortening and scoring rules are pluggable so they can be swapped or tested
// without touching scheduling logic.
package normalize

import (
	"errors"
	"fmt"
	"strings"

	"threadcast/internal/thread"
)

// ErrImpossible is returned when content cannot be made to fit the limit even
// after truncation. The owning thread must never leave draft in that case.
var ErrImpossible = errors.New("content cannot be normalized to fit the platform limit")

const (
	ellipsis = "..."

	defaultLimit       = 280
	defaultFirstTagCap = 4
	defaultRestTagCap  = 2

	defaultCoreMarker = "music"
	defaultCoreTag    = "#MusicMarketing"
	defaultBrandTag   = "#AudioIntel"
)

type Config struct {
	// Limit is the platform's per-item character limit (counted in runes).
	Limit int

	// CoreMarker identifies an acceptable "core" tag by substring match
	// (case-insensitive). CoreTag is appended to the lead item when no tag
	// matches; BrandTag is appended when missing verbatim.
	CoreMarker string
	CoreTag    string
	BrandTag   string

	FirstTagCap int
	RestTagCap  int
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = defaultLimit
	}
	if c.CoreMarker == "" {
		c.CoreMarker = defaultCoreMarker
	}
	if c.CoreTag == "" {
		c.CoreTag = defaultCoreTag
	}
	if c.BrandTag == "" {
		c.BrandTag = defaultBrandTag
	}
	if c.FirstTagCap <= 0 {
		c.FirstTagCap = defaultFirstTagCap
	}
	if c.RestTagCap <= 0 {
		c.RestTagCap = defaultRestTagCap
	}
	return c
}

// Shortener reduces content length without changing meaning. Implementations
// must be deterministic and must not consult the clock or external state.
type Shortener interface {
	Shorten(content string) string
}

// Scorer estimates engagement for a post. Advisory only; implementations must
// be pure.
type Scorer interface {
	Score(content string, tags []string) float64
}

type Normalizer struct {
	cfg       Config
	shortener Shortener
	scorer    Scorer
}

type Option func(*Normalizer)

func WithShortener(s Shortener) Option { return func(n *Normalizer) { n.shortener = s } }
func WithScorer(s Scorer) Option       { return func(n *Normalizer) { n.scorer = s } }

func New(cfg Config, opts ...Option) *Normalizer {
	n := &Normalizer{cfg: cfg.withDefaults()}
	for _, o := range opts {
		o(n)
	}
	if n.shortener == nil {
		n.shortener = NewRuleShortener()
	}
	if n.scorer == nil {
		n.scorer = NewSignalScorer()
	}
	return n
}

// Normalize turns drafts into publishable posts with contiguous 1-based
// positions. It fails (and the thread must stay in draft) when any item cannot
// fit the limit.
func (n *Normalizer) Normalize(drafts []thread.Draft) ([]thread.Post, error) {
	if len(drafts) == 0 {
		return nil, errors.New("no content items")
	}

	indicator := ""
	if len(drafts) > 1 {
		indicator = sequenceIndicator(len(drafts))
	}

	posts := make([]thread.Post, 0, len(drafts))
	for i, d := range drafts {
		content := strings.TrimSpace(d.Content)
		if content == "" {
			return nil, fmt.Errorf("item %d: %w (empty content)", i+1, ErrImpossible)
		}

		if runeLen(content) > n.cfg.Limit {
			content = n.shortener.Shorten(content)
		}
		if runeLen(content) > n.cfg.Limit {
			var err error
			content, err = truncateTo(content, n.cfg.Limit)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i+1, err)
			}
		}

		if i == 0 && indicator != "" {
			var err error
			content, err = appendIndicator(content, indicator, n.cfg.Limit)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i+1, err)
			}
		}

		tags := n.selectTags(d.Tags, i == 0)

		posts = append(posts, thread.Post{
			Content:             content,
			Tags:                tags,
			MediaRefs:           append([]string(nil), d.MediaRefs...),
			Position:            i + 1,
			EstimatedEngagement: clip(n.scorer.Score(content, tags), 0, 10),
		})
	}
	return posts, nil
}

// selectTags enforces the per-item tag policy: the lead item gets a core and a
// brand tag (added if missing) and the larger cap; the rest only get capped.
func (n *Normalizer) selectTags(raw []string, first bool) []string {
	tags := append([]string(nil), raw...)

	max := n.cfg.RestTagCap
	if first {
		max = n.cfg.FirstTagCap
		hasCore := false
		for _, t := range tags {
			if strings.Contains(strings.ToLower(t), n.cfg.CoreMarker) {
				hasCore = true
				break
			}
		}
		if !hasCore {
			tags = append(tags, n.cfg.CoreTag)
		}
		hasBrand := false
		for _, t := range tags {
			if t == n.cfg.BrandTag {
				hasBrand = true
				break
			}
		}
		if !hasBrand {
			tags = append(tags, n.cfg.BrandTag)
		}
	}

	if len(tags) > max {
		tags = tags[:max]
	}
	return tags
}

func sequenceIndicator(total int) string {
	return fmt.Sprintf(" \U0001F9F5 (%d posts)", total)
}

// appendIndicator adds the sequence indicator, truncating the body first when
// it would not fit. The indicator is never dropped. Already-suffixed content
// is left alone so re-normalizing stays a no-op.
func appendIndicator(content, indicator string, limit int) (string, error) {
	if strings.HasSuffix(content, indicator) {
		return content, nil
	}
	room := limit - runeLen(indicator)
	if room <= len(ellipsis) {
		return "", fmt.Errorf("%w (limit %d cannot hold sequence indicator)", ErrImpossible, limit)
	}
	if runeLen(content) > room {
		var err error
		content, err = truncateTo(content, room)
		if err != nil {
			return "", err
		}
	}
	return content + indicator, nil
}

// truncateTo hard-truncates to limit-3 runes and appends the ellipsis marker.
func truncateTo(content string, limit int) (string, error) {
	keep := limit - len(ellipsis)
	if keep <= 0 {
		return "", fmt.Errorf("%w (limit %d too small)", ErrImpossible, limit)
	}
	r := []rune(content)
	if len(r) <= limit {
		return content, nil
	}
	return string(r[:keep]) + ellipsis, nil
}

func runeLen(s string) int { return len([]rune(s)) }

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
