package loader

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/treesync/internal/models"
)

var (
	gedcomDateRe = regexp.MustCompile(`^(?:(\d{1,2})\s+)?(?:([A-Z]{3,4})\.?\s+)?(\d{1,4})(?:/\d{1,2})?$`)
	isoDateRe    = regexp.MustCompile(`^(\d{4})(?:-(\d{2})(?:-(\d{2}))?)?$`)
	rangeRe      = regexp.MustCompile(`^(BET|BETWEEN|FROM)\s+(.+?)\s+(AND|TO)\s+(.+)$`)
)

var months = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "SEPT": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var modifiers = []struct {
	prefix string
	mod    models.DateModifier
}{
	{"ABOUT", models.DateAbout},
	{"ABT", models.DateAbout},
	{"CIRCA", models.DateAbout},
	{"CA", models.DateAbout},
	{"C.", models.DateAbout},
	{"EST", models.DateEstimated},
	{"CAL", models.DateCalculated},
	{"BEF", models.DateBefore},
	{"BEFORE", models.DateBefore},
	{"AFT", models.DateAfter},
	{"AFTER", models.DateAfter},
	{"FROM", models.DateAfter},
	{"TO", models.DateBefore},
	{"INT", models.DateExact},
}

// ParseDate reads a GEDCOM date phrase ("12 MAR 1901", "ABT 1900",
// "BET 1890 AND 1895", "FROM 1900 TO 1910") or an ISO date. It returns nil
// when no date component can be read. The raw text is kept in Original.
func ParseDate(raw string) *models.DateInfo {
	original := strings.TrimSpace(raw)
	s := strings.ToUpper(original)
	if s == "" || strings.HasPrefix(s, "(") {
		return nil
	}
	if i := strings.Index(s, "("); i > 0 {
		s = strings.TrimSpace(s[:i])
	}

	if m := rangeRe.FindStringSubmatch(s); m != nil {
		start, end := parsePlain(m[2]), parsePlain(m[4])
		if start == nil {
			return nil
		}
		d := models.NewDate(start[0], start[1], start[2], models.DateBetween, original)
		if end != nil {
			d.RangeEnd = models.NewDate(end[0], end[1], end[2], models.DateExact, "")
		}
		return d
	}

	mod := models.DateExact
	for _, m := range modifiers {
		if rest, ok := strings.CutPrefix(s, m.prefix); ok && (rest == "" || rest[0] == ' ') {
			mod, s = m.mod, strings.TrimSpace(rest)
			break
		}
	}
	parts := parsePlain(s)
	if parts == nil {
		return nil
	}
	return models.NewDate(parts[0], parts[1], parts[2], mod, original)
}

// parsePlain returns year, month, day or nil.
func parsePlain(s string) []int {
	s = strings.TrimSpace(s)
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		return []int{atoi(m[1]), atoi(m[2]), atoi(m[3])}
	}
	m := gedcomDateRe.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	month := 0
	if m[2] != "" {
		var ok bool
		if month, ok = months[m[2]]; !ok {
			return nil
		}
	}
	day := atoi(m[1])
	if month == 0 {
		day = 0
	}
	year := atoi(m[3])
	if year == 0 {
		return nil
	}
	return []int{year, month, day}
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
