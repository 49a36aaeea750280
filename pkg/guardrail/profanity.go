package guardrail

import (
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const censored = "[censored]"

var cleanWords = map[string]string{
	"motherfucker": "mother-trucker",
	"horseshit":    "nonsense",
	"bullshit":     "baloney",
	"douchebag":    "jerk",
	"shithead":     "jerk",
	"dickhead":     "jerk",
	"asshole":      "jerk",
	"goddamn":      "gosh-dang",
	"dumbass":      "dummy",
	"jackass":      "jerk",
	"dipshit":      "dummy",
	"bastard":      "scoundrel",
	"bitch":        "wretch",
	"prick":        "jerk",
	"whore":        censored,
	"slut":         censored,
	"pussy":        censored,
	"cock":         censored,
	"fuck":         "fudge",
	"shit":         "shoot",
	"damn":         "dang",
	"crap":         "crud",
	"piss":         "ticked",
	"dick":         "jerk",
}

// ProfanityFilter swaps crude words for tamer ones, keeping the casing of
// the original.
type ProfanityFilter struct {
	re *regexp.Regexp
}

func NewProfanityFilter() *ProfanityFilter {
	words := make([]string, 0, len(cleanWords))
	for w := range cleanWords {
		words = append(words, w)
	}
	// Longest first so compounds win over their parts.
	slices.SortFunc(words, func(a, b string) int { return len(b) - len(a) })
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return &ProfanityFilter{
		re: regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`),
	}
}

// Filter replaces every flagged word.
func (f *ProfanityFilter) Filter(text string) string {
	return f.re.ReplaceAllStringFunc(text, func(match string) string {
		return matchCase(match, cleanWords[strings.ToLower(match)])
	})
}

// Contains reports whether text has a flagged word.
func (f *ProfanityFilter) Contains(text string) bool {
	return f.re.MatchString(text)
}

func matchCase(original, replacement string) string {
	// Casers carry state, so each call gets its own.
	title := cases.Title(language.English)
	switch {
	case replacement == censored:
		return replacement
	case strings.ToUpper(original) == original:
		return strings.ToUpper(replacement)
	case strings.ToLower(original) == original:
		return replacement
	case title.String(strings.ToLower(original)) == original:
		return title.String(replacement)
	}
	orig := []rune(original)
	out := []rune(replacement)
	for i := range out {
		if i < len(orig) && unicode.IsUpper(orig[i]) {
			out[i] = unicode.ToUpper(out[i])
		} else {
			out[i] = unicode.ToLower(out[i])
		}
	}
	return string(out)
}
