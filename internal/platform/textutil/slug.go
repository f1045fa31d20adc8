package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips combining marks so accented characters collapse to
// their ASCII base (e.g. "Solitère" -> "Solitere").
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify converts a display name into a lowercase URL slug. Diacritics are
// folded, runs of non-alphanumeric characters collapse into single hyphens.
func Slugify(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	lastHyphen := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// Keywords derives the lowercase prefix-search tokens for a product name.
// Every token of the folded name is included once.
func Keywords(values ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, value := range values {
		folded, _, err := transform.String(foldTransformer, value)
		if err != nil {
			folded = value
		}
		for _, token := range strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
		}) {
			if token == "" {
				continue
			}
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			out = append(out, token)
		}
	}
	return out
}
