// Package names provides name normalization, transliteration and variant
// equivalence used by the fuzzy matcher.
package names

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/starford/treesync/internal/models"
)

// SuffixPair maps a feminine surname ending to its masculine form.
type SuffixPair struct {
	Feminine  string `yaml:"feminine"`
	Masculine string `yaml:"masculine"`
}

// Transliteration maps a lower-case character to its Latin spelling.
type Transliteration map[rune]string

// UnmarshalYAML reads a mapping of single characters, such as `"ж": zh`.
func (t *Transliteration) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	out := make(Transliteration, len(raw))
	for k, v := range raw {
		rs := []rune(k)
		if len(rs) != 1 {
			return fmt.Errorf("names: transliteration key %q is not a single character", k)
		}
		out[rs[0]] = v
	}
	*t = out
	return nil
}

// Table holds the lookup data a Service is built from.
type Table struct {
	Transliteration Transliteration `yaml:"transliteration"`
	VariantGroups   [][]string      `yaml:"variant_groups"`
	SurnameSuffixes []SuffixPair    `yaml:"surname_suffixes"`
}

// Service answers name questions from an immutable copy of a Table.
// It is safe for concurrent use.
type Service struct {
	translit map[rune]string
	variants map[string][]int
	suffixes []SuffixPair
}

// New builds a Service. The table is copied; later changes to t have no effect.
func New(t Table) *Service {
	s := &Service{
		translit: make(map[rune]string, len(t.Transliteration)),
		variants: make(map[string][]int),
		suffixes: append([]SuffixPair(nil), t.SurnameSuffixes...),
	}
	for r, v := range t.Transliteration {
		s.translit[unicode.ToLower(r)] = v
	}
	for i, group := range t.VariantGroups {
		for _, name := range group {
			key := s.Normalize(name)
			if key == "" {
				continue
			}
			s.variants[key] = append(s.variants[key], i)
		}
	}
	return s
}

// Transliterate converts characters with a table entry to Latin, keeping the
// case of the first output letter.
func (s *Service) Transliterate(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		lower := unicode.ToLower(r)
		repl, ok := s.translit[lower]
		if !ok {
			b.WriteRune(r)
			continue
		}
		if r != lower && repl != "" {
			rs := []rune(repl)
			rs[0] = unicode.ToUpper(rs[0])
			repl = string(rs)
		}
		b.WriteString(repl)
	}
	return b.String()
}

// Normalize transliterates and folds a name into a comparison key.
func (s *Service) Normalize(name string) string {
	return Fold(s.Transliterate(name))
}

// NormalizeSurname normalizes a surname and, unless the person is known to
// be male, maps feminine endings onto the masculine form so that
// Ivanova/Ivanov or Kowalska/Kowalski compare equal.
func (s *Service) NormalizeSurname(name string, g models.Gender) string {
	n := s.Normalize(name)
	if g == models.GenderMale || n == "" {
		return n
	}
	for _, p := range s.suffixes {
		if strings.HasSuffix(n, p.Feminine) && len(n) > len(p.Feminine)+1 {
			return strings.TrimSuffix(n, p.Feminine) + p.Masculine
		}
	}
	return n
}

// AreEquivalent reports whether two given names are the same name or known
// variants of one another.
func (s *Service) AreEquivalent(a, b string) bool {
	na, nb := s.Normalize(a), s.Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	for _, ga := range s.variants[na] {
		for _, gb := range s.variants[nb] {
			if ga == gb {
				return true
			}
		}
	}
	return false
}

// Fold lowercases, strips diacritics and punctuation and collapses spaces.
func Fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case r == '\'' || r == '’':
			// O'Brien and O’Brien fold to obrien.
		default:
			space = true
		}
	}
	return b.String()
}
