package names

import (
	"testing"

	"github.com/starford/treesync/internal/models"
)

func TestFold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  José  María ", "jose maria"},
		{"O'Brien", "obrien"},
		{"Smith-Jones", "smith jones"},
		{"Müller", "muller"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Fold(tt.in); got != tt.want {
			t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTransliterate(t *testing.T) {
	svc := New(DefaultTable())
	if got := svc.Transliterate("Иван Петров"); got != "Ivan Petrov" {
		t.Errorf("Transliterate = %q, want %q", got, "Ivan Petrov")
	}
	if got := svc.Transliterate("Щукин"); got != "Shchukin" {
		t.Errorf("Transliterate = %q, want %q", got, "Shchukin")
	}
	if got := svc.Transliterate("Łukasz"); got != "Lukasz" {
		t.Errorf("Transliterate = %q, want %q", got, "Lukasz")
	}
}

func TestAreEquivalent(t *testing.T) {
	svc := New(DefaultTable())
	tests := []struct {
		a, b string
		want bool
	}{
		{"Bob", "Robert", true},
		{"robert", "ROBERT", true},
		{"Иван", "John", true},
		{"Bob", "William", false},
		{"", "", false},
		{"Mary", "Maria", true},
	}
	for _, tt := range tests {
		if got := svc.AreEquivalent(tt.a, tt.b); got != tt.want {
			t.Errorf("AreEquivalent(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNormalizeSurname(t *testing.T) {
	svc := New(DefaultTable())
	if got := svc.NormalizeSurname("Ivanova", models.GenderFemale); got != "ivanov" {
		t.Errorf("female Ivanova = %q", got)
	}
	if got := svc.NormalizeSurname("Kowalska", models.GenderUnknown); got != "kowalski" {
		t.Errorf("unknown Kowalska = %q", got)
	}
	if got := svc.NormalizeSurname("Petrova", models.GenderMale); got != "petrova" {
		t.Errorf("male surname should not be rewritten, got %q", got)
	}
	if got := svc.NormalizeSurname("Иванова", models.GenderFemale); got != "ivanov" {
		t.Errorf("cyrillic Ivanova = %q", got)
	}
}

func TestNewCopiesTable(t *testing.T) {
	table := DefaultTable()
	svc := New(table)
	table.VariantGroups[0] = []string{"Robert", "Zed"}
	if svc.AreEquivalent("Robert", "Zed") {
		t.Error("service must not observe table changes after construction")
	}
}
