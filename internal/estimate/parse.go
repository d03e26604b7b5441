package estimate

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Parse confidences by quantity source.
const (
	confidencePhrase  = 80
	confidenceRange   = 85
	confidenceNumber  = 95
	confidenceDefault = 50

	defaultQuantityGrams = 100
	// maxQuantity bounds a parsed number in its own unit.
	maxQuantity = 1e6
)

// QuantitySource tells how the quantity of an ingredient was obtained.
type QuantitySource string

const (
	QuantityPhrase  QuantitySource = "phrase"
	QuantityRange   QuantitySource = "range"
	QuantityDecimal QuantitySource = "decimal"
	QuantityInteger QuantitySource = "integer"
	QuantityDefault QuantitySource = "default"
	// QuantityInvalid marks a number that could not be used; the default
	// quantity applies.
	QuantityInvalid QuantitySource = "invalid"
)

// ParsedIngredient is one entry of a free-text ingredient list.
type ParsedIngredient struct {
	Raw      string
	Name     string
	Quantity float64
	// Unit is a key of the unit table, or empty for bare numbers.
	Unit string
	// Method is the cooking method named in the entry, if any.
	Method     string
	Source     QuantitySource
	Confidence float64
}

var (
	rangeRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*-\s*(\d+(?:\.\d+)?)\s*(\p{L}+)?`)
	decimalRe = regexp.MustCompile(`(\d+\.\d+)\s*(\p{L}+)?`)
	integerRe = regexp.MustCompile(`(\d+)\s*(\p{L}+)?`)

	abbreviations = strings.NewReplacer(
		"ст.л.", " стл ",
		"ст. л.", " стл ",
		"ч.л.", " чл ",
		"ч. л.", " чл ",
		"ст.л", " стл ",
		"ч.л", " чл ",
	)
)

// normalizeText lower-cases s, folds "ё" and drops characters outside the
// letters, digits and list punctuation whitelist.
func normalizeText(s string) string {
	s = cases.Lower(language.Russian).String(s)
	s = strings.ReplaceAll(s, "ё", "е")
	s = abbreviations.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ',', r == ';', r == '.', r == '\n', r == '-', r == ' ':
			b.WriteRune(r)
		case r == '–', r == '—':
			b.WriteRune('-')
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// splitEntries splits normalized text on list separators. A dot or comma
// between two digits is a decimal separator.
func splitEntries(s string) []string {
	rs := []rune(s)
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if e := strings.Join(strings.Fields(cur.String()), " "); e != "" {
			out = append(out, e)
		}
		cur.Reset()
	}
	for i, r := range rs {
		switch r {
		case '.', ',':
			if i > 0 && i+1 < len(rs) && unicode.IsDigit(rs[i-1]) && unicode.IsDigit(rs[i+1]) {
				cur.WriteRune('.')
				continue
			}
			flush()
		case ';', '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

// ParseIngredientList parses free text such as "100 г курица, 2 ст.л. масла"
// into ingredients. Entries without a recognizable name are dropped.
func ParseIngredientList(t *Tables, text string) []ParsedIngredient {
	entries := splitEntries(normalizeText(text))
	out := make([]ParsedIngredient, 0, len(entries))
	for _, e := range entries {
		p, ok := parseEntry(t, e)
		if ok {
			out = append(out, p)
		}
	}
	return out
}

// ingredientName returns the name the parser derives from a single-entry
// text, or false when text holds no entry or more than one.
func ingredientName(t *Tables, text string) (string, bool) {
	entries := splitEntries(normalizeText(text))
	if len(entries) != 1 {
		return "", false
	}
	p, ok := parseEntry(t, entries[0])
	return p.Name, ok
}

func parseEntry(t *Tables, entry string) (ParsedIngredient, bool) {
	p := ParsedIngredient{Raw: entry}
	rest := extractQuantity(t, entry, &p)

	var words []string
	for _, w := range strings.Fields(strings.ReplaceAll(rest, "-", " ")) {
		if m, ok := t.methodByKeyword[w]; ok {
			if p.Method == "" {
				p.Method = m
			}
			continue
		}
		if _, ok := t.fillers[w]; ok {
			continue
		}
		if _, ok := t.Units[w]; ok && p.Source != QuantityDefault && p.Unit == "" {
			p.Unit = w
			continue
		}
		words = append(words, w)
	}
	p.Name = strings.Join(words, " ")
	return p, p.Name != ""
}

// extractQuantity fills the quantity fields of p and returns entry with the
// quantity text removed.
func extractQuantity(t *Tables, entry string, p *ParsedIngredient) string {
	for _, phrase := range t.phraseKeys {
		if i := strings.Index(entry, phrase); i >= 0 {
			p.Quantity = t.QuantityPhrases[phrase]
			p.Unit = "г"
			p.Source = QuantityPhrase
			p.Confidence = confidencePhrase
			return entry[:i] + " " + entry[i+len(phrase):]
		}
	}

	if m := rangeRe.FindStringSubmatchIndex(entry); m != nil {
		lo, okLo := parseQuantity(entry[m[2]:m[3]])
		hi, okHi := parseQuantity(entry[m[4]:m[5]])
		p.Quantity = (lo + hi) / 2
		p.Source = QuantityRange
		p.Confidence = confidenceRange
		rest := cutNumber(t, entry, m, 6, p)
		if !okLo || !okHi {
			invalidQuantity(p)
		}
		return rest
	}

	for _, re := range []*regexp.Regexp{decimalRe, integerRe} {
		m := re.FindStringSubmatchIndex(entry)
		if m == nil {
			continue
		}
		q, ok := parseQuantity(entry[m[2]:m[3]])
		p.Quantity = q
		p.Source = QuantityInteger
		if re == decimalRe {
			p.Source = QuantityDecimal
		}
		p.Confidence = confidenceNumber
		rest := cutNumber(t, entry, m, 4, p)
		if !ok {
			invalidQuantity(p)
		}
		return rest
	}

	p.Quantity = defaultQuantityGrams
	p.Unit = "г"
	p.Source = QuantityDefault
	p.Confidence = confidenceDefault
	return entry
}

// parseQuantity parses a matched number, rejecting values that overflow or
// exceed maxQuantity.
func parseQuantity(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) || v > maxQuantity {
		return 0, false
	}
	return v, true
}

func invalidQuantity(p *ParsedIngredient) {
	p.Quantity = defaultQuantityGrams
	p.Unit = "г"
	p.Source = QuantityInvalid
	p.Confidence = confidenceDefault
}

// cutNumber removes a matched quantity from entry. The word following the
// number is consumed only when it is a known unit; unitGroup is the submatch
// index pair offset of that word.
func cutNumber(t *Tables, entry string, m []int, unitGroup int, p *ParsedIngredient) string {
	end := m[1]
	if m[unitGroup] >= 0 {
		unit := entry[m[unitGroup]:m[unitGroup+1]]
		if _, ok := t.Units[unit]; ok {
			p.Unit = unit
		} else {
			end = m[unitGroup]
		}
	}
	return entry[:m[0]] + " " + entry[end:]
}
