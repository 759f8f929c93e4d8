package report

import (
	"strings"

	"github.com/starford/treesync/internal/models"
)

// Action tells the update executor what to do with one field.
type Action string

const (
	ActionAdd         Action = "add"
	ActionUpdate      Action = "update"
	ActionAddPhoto    Action = "add_photo"
	ActionUpdatePhoto Action = "update_photo"
	ActionPhotoMatch  Action = "photo_match"
)

// FieldDiff is one proposed change on a destination person.
type FieldDiff struct {
	Field            string `json:"field"`
	Action           Action `json:"action"`
	SourceValue      string `json:"source_value,omitempty"`
	DestinationValue string `json:"destination_value,omitempty"`
}

// Diff lists the fields where src carries information dst lacks or has
// differently. Fields src leaves empty never produce a diff.
func Diff(src, dst *models.PersonRecord) []FieldDiff {
	var out []FieldDiff
	text := func(field, s, d string) {
		s, d = strings.TrimSpace(s), strings.TrimSpace(d)
		switch {
		case s == "":
		case d == "":
			out = append(out, FieldDiff{Field: field, Action: ActionAdd, SourceValue: s})
		case !strings.EqualFold(s, d):
			out = append(out, FieldDiff{Field: field, Action: ActionUpdate, SourceValue: s, DestinationValue: d})
		}
	}

	text("first_name", src.FirstName, dst.FirstName)
	text("middle_name", src.MiddleName, dst.MiddleName)
	text("last_name", src.LastName, dst.LastName)
	text("maiden_name", src.MaidenName, dst.MaidenName)
	text("suffix", src.Suffix, dst.Suffix)
	text("nickname", src.Nickname, dst.Nickname)

	if src.Gender != models.GenderUnknown && dst.Gender == models.GenderUnknown {
		out = append(out, FieldDiff{Field: "gender", Action: ActionAdd, SourceValue: src.Gender.String()})
	}

	out = appendDate(out, "birth_date", src.BirthDate, dst.BirthDate)
	text("birth_place", src.BirthPlace, dst.BirthPlace)
	out = appendDate(out, "death_date", src.DeathDate, dst.DeathDate)
	text("death_place", src.DeathPlace, dst.DeathPlace)
	out = appendDate(out, "burial_date", src.BurialDate, dst.BurialDate)
	text("burial_place", src.BurialPlace, dst.BurialPlace)
	text("occupation", src.Occupation, dst.Occupation)

	switch s, d := src.PhotoURL, dst.PhotoURL; {
	case s == "":
	case d == "":
		out = append(out, FieldDiff{Field: "photo", Action: ActionAddPhoto, SourceValue: s})
	case s == d:
		out = append(out, FieldDiff{Field: "photo", Action: ActionPhotoMatch, SourceValue: s, DestinationValue: d})
	default:
		out = append(out, FieldDiff{Field: "photo", Action: ActionUpdatePhoto, SourceValue: s, DestinationValue: d})
	}
	return out
}

// appendDate proposes an update only when the source date is at least as
// precise as the destination one.
func appendDate(out []FieldDiff, field string, s, d *models.DateInfo) []FieldDiff {
	switch {
	case s == nil:
		return out
	case d == nil:
		return append(out, FieldDiff{Field: field, Action: ActionAdd, SourceValue: s.String()})
	case s.Equal(d) || precision(s) < precision(d):
		return out
	}
	return append(out, FieldDiff{Field: field, Action: ActionUpdate, SourceValue: s.String(), DestinationValue: d.String()})
}

func precision(d *models.DateInfo) int {
	p := 0
	for _, c := range []int{d.Year, d.Month, d.Day} {
		if c != 0 {
			p += 2
		}
	}
	if d.IsApproximate() {
		p--
	}
	return p
}

// actionable reports whether diffs contain anything besides photo matches.
func actionable(diffs []FieldDiff) bool {
	for _, d := range diffs {
		if d.Action != ActionPhotoMatch {
			return true
		}
	}
	return false
}
