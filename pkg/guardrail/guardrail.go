// Package guardrail screens player text before it reaches the game master
// or the save store.
package guardrail

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// Reasons reported by the checks.
const (
	ReasonPassed            = "All checks passed."
	ReasonTooManyWords      = "Too many words."
	ReasonInvalidChar       = "Invalid character."
	ReasonInvalidExpression = "Invalid expression."
	ReasonProfanity         = "Inappropriate language."
)

// Decision is the outcome of running a request through a pipeline.
type Decision struct {
	Allowed bool   `json:"decision"`
	Updated string `json:"updated_req"`
	Reason  string `json:"reason"`
}

// Check inspects a request. It may return an edited request; ok false blocks
// it with Reason.
type Check interface {
	Run(req string) (updated string, ok bool)
	Reason() string
}

// Run applies checks in order and stops at the first block.
func Run(req string, checks ...Check) Decision {
	for _, c := range checks {
		updated, ok := c.Run(req)
		if !ok {
			return Decision{Allowed: false, Updated: req, Reason: c.Reason()}
		}
		req = updated
	}
	return Decision{Allowed: true, Updated: req, Reason: ReasonPassed}
}

// LengthCheck blocks requests outside 1..Max words.
type LengthCheck struct {
	Max int
}

func (c LengthCheck) Run(req string) (string, bool) {
	n := len(strings.Fields(req))
	return req, n >= 1 && n <= c.Max
}

func (c LengthCheck) Reason() string { return ReasonTooManyWords }

// CharsCheck blocks requests containing any of Chars.
type CharsCheck struct {
	Chars string
}

func (c CharsCheck) Run(req string) (string, bool) {
	return req, !strings.ContainsAny(req, c.Chars)
}

func (c CharsCheck) Reason() string { return ReasonInvalidChar }

// ExpressionsCheck blocks requests containing any of Expressions, ignoring
// case.
type ExpressionsCheck struct {
	Expressions []string
}

func (c ExpressionsCheck) Run(req string) (string, bool) {
	lower := strings.ToLower(req)
	return req, !slices.ContainsFunc(c.Expressions, func(e string) bool {
		return strings.Contains(lower, strings.ToLower(e))
	})
}

func (c ExpressionsCheck) Reason() string { return ReasonInvalidExpression }

// MaskCheck rewrites the request so that only letters and digits remain.
// Spaces become underscores and anything else becomes Mask.
type MaskCheck struct {
	Mask rune
}

func (c MaskCheck) Run(req string) (string, bool) {
	var b strings.Builder
	for _, r := range req {
		switch {
		case r == ' ':
			b.WriteRune('_')
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteRune(c.Mask)
		}
	}
	return b.String(), true
}

func (c MaskCheck) Reason() string { return ReasonPassed }

// ProfanityCheck blocks requests the filter flags.
type ProfanityCheck struct {
	Filter *ProfanityFilter
}

func (c ProfanityCheck) Run(req string) (string, bool) {
	return req, !c.Filter.Contains(req)
}

func (c ProfanityCheck) Reason() string { return ReasonProfanity }

const (
	inputMaxWords = 100
	nameMaxWords  = 8
	invalidChars  = "[]{}<>;/\\|@#%^&*~`"
)

var injectionExpressions = []string{"ignore all previous"}

// Guard bundles the pipelines used by the game.
type Guard struct {
	profanity *ProfanityFilter
	strict    bool
}

// NewGuard returns a guard for a content rating. Ratings at or below PG-13
// also reject and scrub profanity.
func NewGuard(rating string) *Guard {
	return &Guard{profanity: NewProfanityFilter(), strict: StrictRating(rating)}
}

// LLMInput screens free text that will be sent to the game master.
func (g *Guard) LLMInput(req string) Decision {
	checks := []Check{
		LengthCheck{Max: inputMaxWords},
		CharsCheck{Chars: invalidChars},
		ExpressionsCheck{Expressions: injectionExpressions},
	}
	if g.strict {
		checks = append(checks, ProfanityCheck{Filter: g.profanity})
	}
	return Run(req, checks...)
}

// SaveName screens and masks a save name.
func (g *Guard) SaveName(req string) Decision {
	return Run(req, LengthCheck{Max: nameMaxWords}, MaskCheck{Mask: 'X'})
}

// Narration scrubs generated text for the configured rating.
func (g *Guard) Narration(text string) string {
	if !g.strict {
		return text
	}
	return g.profanity.Filter(text)
}

var ratingSep = regexp.MustCompile(`[\s_-]+`)

// StrictRating reports whether a rating calls for clean language.
func StrictRating(rating string) bool {
	switch ratingSep.ReplaceAllString(strings.ToUpper(rating), "") {
	case "G", "PG", "PG13":
		return true
	}
	return false
}
