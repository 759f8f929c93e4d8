// Package models defines the domain types for treesync.
package models

import (
	"fmt"
	"strings"
)

// Source identifies which tree a record was loaded from.
type Source string

const (
	SourceGedcom Source = "gedcom"
	SourceRemote Source = "remote"
)

// Gender of an individual.
type Gender int

const (
	GenderUnknown Gender = iota
	GenderMale
	GenderFemale
)

// String returns a one-letter representation (M, F or U).
func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "M"
	case GenderFemale:
		return "F"
	default:
		return "U"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (g Gender) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Gender) UnmarshalText(b []byte) error {
	*g = ParseGender(string(b))
	return nil
}

// ParseGender maps GEDCOM-style sex values to a Gender.
func ParseGender(s string) Gender {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "M", "MALE":
		return GenderMale
	case "F", "FEMALE":
		return GenderFemale
	default:
		return GenderUnknown
	}
}

// DateModifier qualifies how precise a DateInfo is.
type DateModifier string

const (
	DateExact      DateModifier = "exact"
	DateAbout      DateModifier = "about"
	DateBefore     DateModifier = "before"
	DateAfter      DateModifier = "after"
	DateEstimated  DateModifier = "estimated"
	DateCalculated DateModifier = "calculated"
	DateBetween    DateModifier = "between"
)

// DateInfo is a possibly partial date. A zero component means "not set".
// A date with no components is represented as a nil *DateInfo.
type DateInfo struct {
	Year     int          `json:"year,omitempty"`
	Month    int          `json:"month,omitempty"`
	Day      int          `json:"day,omitempty"`
	Modifier DateModifier `json:"modifier,omitempty"`
	RangeEnd *DateInfo    `json:"range_end,omitempty"`
	Original string       `json:"original,omitempty"`
}

// NewDate returns nil when none of year, month or day is set.
func NewDate(year, month, day int, modifier DateModifier, original string) *DateInfo {
	if year == 0 && month == 0 && day == 0 {
		return nil
	}
	if modifier == "" {
		modifier = DateExact
	}
	return &DateInfo{Year: year, Month: month, Day: day, Modifier: modifier, Original: original}
}

// HasYear reports whether d is non-nil and carries a year.
func (d *DateInfo) HasYear() bool {
	return d != nil && d.Year != 0
}

// IsApproximate reports whether the modifier makes the year fuzzy.
func (d *DateInfo) IsApproximate() bool {
	if d == nil {
		return false
	}
	switch d.Modifier {
	case DateAbout, DateEstimated, DateCalculated, DateBetween, DateBefore, DateAfter:
		return true
	}
	return false
}

// String renders d as YYYY[-MM[-DD]] with a modifier prefix.
func (d *DateInfo) String() string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	if d.Modifier != "" && d.Modifier != DateExact {
		b.WriteString(string(d.Modifier))
		b.WriteByte(' ')
	}
	switch {
	case d.Year == 0:
		fmt.Fprintf(&b, "?-%02d-%02d", d.Month, d.Day)
	case d.Month == 0:
		fmt.Fprintf(&b, "%04d", d.Year)
	case d.Day == 0:
		fmt.Fprintf(&b, "%04d-%02d", d.Year, d.Month)
	default:
		fmt.Fprintf(&b, "%04d-%02d-%02d", d.Year, d.Month, d.Day)
	}
	if d.RangeEnd != nil {
		b.WriteString("/")
		b.WriteString(d.RangeEnd.String())
	}
	return b.String()
}

// Equal compares the date components, ignoring the original string.
func (d *DateInfo) Equal(o *DateInfo) bool {
	if d == nil || o == nil {
		return d == nil && o == nil
	}
	return d.Year == o.Year && d.Month == o.Month && d.Day == o.Day && d.Modifier == o.Modifier
}

// PersonRecord is a normalized individual. Relations are id references.
// Records are built once by the loader and never mutated afterwards.
type PersonRecord struct {
	ID     string `json:"id"`
	Source Source `json:"source"`

	FirstName    string   `json:"first_name,omitempty"`
	LastName     string   `json:"last_name,omitempty"`
	MaidenName   string   `json:"maiden_name,omitempty"`
	MiddleName   string   `json:"middle_name,omitempty"`
	Suffix       string   `json:"suffix,omitempty"`
	Nickname     string   `json:"nickname,omitempty"`
	NameVariants []string `json:"name_variants,omitempty"`

	// Normalized shadows of FirstName/LastName, filled by the loader.
	NormalizedFirstName string `json:"normalized_first_name,omitempty"`
	NormalizedLastName  string `json:"normalized_last_name,omitempty"`

	BirthDate   *DateInfo `json:"birth_date,omitempty"`
	DeathDate   *DateInfo `json:"death_date,omitempty"`
	BurialDate  *DateInfo `json:"burial_date,omitempty"`
	BirthPlace  string    `json:"birth_place,omitempty"`
	DeathPlace  string    `json:"death_place,omitempty"`
	BurialPlace string    `json:"burial_place,omitempty"`

	Gender     Gender `json:"gender"`
	IsLiving   bool   `json:"is_living,omitempty"`
	Occupation string `json:"occupation,omitempty"`
	PhotoURL   string `json:"photo_url,omitempty"`

	FatherID    string   `json:"father_id,omitempty"`
	MotherID    string   `json:"mother_id,omitempty"`
	SpouseIDs   []string `json:"spouse_ids,omitempty"`
	ChildrenIDs []string `json:"children_ids,omitempty"`
	SiblingIDs  []string `json:"sibling_ids,omitempty"`

	FamiliesAsChild  []string `json:"families_as_child,omitempty"`
	FamiliesAsSpouse []string `json:"families_as_spouse,omitempty"`
}

// FullName joins first, middle and last names.
func (p *PersonRecord) FullName() string {
	if p == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, s := range []string{p.FirstName, p.MiddleName, p.LastName} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// BirthYear returns the birth year or 0.
func (p *PersonRecord) BirthYear() int {
	if p == nil || p.BirthDate == nil {
		return 0
	}
	return p.BirthDate.Year
}

// DeathYear returns the death year or 0.
func (p *PersonRecord) DeathYear() int {
	if p == nil || p.DeathDate == nil {
		return 0
	}
	return p.DeathDate.Year
}

// Label is a short human readable description used in logs and prompts.
func (p *PersonRecord) Label() string {
	if p == nil {
		return "<nil>"
	}
	name := p.FullName()
	if name == "" {
		name = "(no name)"
	}
	if y := p.BirthYear(); y != 0 {
		return fmt.Sprintf("%s b.%d [%s]", name, y, p.ID)
	}
	return fmt.Sprintf("%s [%s]", name, p.ID)
}

// FamilyRecord is a union: up to two spouses and ordered children.
type FamilyRecord struct {
	ID            string    `json:"id"`
	HusbandID     string    `json:"husband_id,omitempty"`
	WifeID        string    `json:"wife_id,omitempty"`
	ChildrenIDs   []string  `json:"children_ids,omitempty"`
	MarriageDate  *DateInfo `json:"marriage_date,omitempty"`
	MarriagePlace string    `json:"marriage_place,omitempty"`
}

// OtherSpouse returns the spouse of personID within f, or "".
func (f *FamilyRecord) OtherSpouse(personID string) string {
	switch personID {
	case f.HusbandID:
		return f.WifeID
	case f.WifeID:
		return f.HusbandID
	}
	return ""
}

// HasChild reports whether personID is listed among f's children.
func (f *FamilyRecord) HasChild(personID string) bool {
	for _, c := range f.ChildrenIDs {
		if c == personID {
			return true
		}
	}
	return false
}

// IsSpouse reports whether personID is the husband or wife of f.
func (f *FamilyRecord) IsSpouse(personID string) bool {
	return personID != "" && (f.HusbandID == personID || f.WifeID == personID)
}
