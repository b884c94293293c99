package scoring

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	budgetNumberPattern   = regexp.MustCompile(`\d[\d.,]*`)
	groupedByDotPattern   = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
	groupedByCommaPattern = regexp.MustCompile(`^\d{1,3}(,\d{3})+$`)
)

// ParseBudget extracts an amount from free-text budget input such as
// "R$ 25.000", "25,000.50", "US$ 3.500,00", "15k" or "20 mil".
// Only the first number is read, so ranges ("10 a 20 mil") resolve to their
// lower bound. Returns ok=false when no positive amount can be found.
func ParseBudget(raw string) (float64, bool) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return 0, false
	}

	locs := budgetNumberPattern.FindAllStringIndex(text, 2)
	if len(locs) == 0 {
		return 0, false
	}
	first := locs[0]
	token := strings.TrimRight(text[first[0]:first[1]], ".,")
	amount, err := strconv.ParseFloat(normalizeSeparators(token), 64)
	if err != nil || amount <= 0 {
		return 0, false
	}

	// "10 a 20 mil": the unit written after the range applies to both ends.
	suffix := text[first[1]:]
	if len(locs) == 2 && isRangeConnector(text[first[1]:locs[1][0]]) {
		suffix = text[locs[1][1]:]
	}
	return amount * budgetMultiplier(suffix), true
}

func isRangeConnector(between string) bool {
	switch strings.TrimSpace(between) {
	case "a", "-", "–", "até", "ate", "to", "e":
		return true
	default:
		return false
	}
}

// normalizeSeparators turns a pt-BR or en-US formatted number into Go syntax.
// When both separators appear the later one is the decimal mark; a lone
// separator followed by groups of exactly three digits is a thousands mark.
func normalizeSeparators(token string) string {
	lastDot := strings.LastIndex(token, ".")
	lastComma := strings.LastIndex(token, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(token, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(token, ",", "")
	case lastComma >= 0:
		if groupedByCommaPattern.MatchString(token) {
			return strings.ReplaceAll(token, ",", "")
		}
		return strings.Replace(token, ",", ".", 1)
	case lastDot >= 0:
		if groupedByDotPattern.MatchString(token) {
			return strings.ReplaceAll(token, ".", "")
		}
		return token
	default:
		return token
	}
}

func budgetMultiplier(rest string) float64 {
	rest = strings.TrimSpace(rest)
	switch {
	case strings.HasPrefix(rest, "milh"), rest == "mi", strings.HasPrefix(rest, "mi "), strings.HasPrefix(rest, "mm"):
		return 1_000_000
	case strings.HasPrefix(rest, "mil"), strings.HasPrefix(rest, "k"):
		return 1_000
	default:
		return 1
	}
}
