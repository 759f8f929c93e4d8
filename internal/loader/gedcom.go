package loader

import (
	"fmt"
	"io"
	"strings"

	"github.com/cacack/gedcom-go/decoder"
	"github.com/cacack/gedcom-go/gedcom"

	"github.com/starford/treesync/internal/models"
)

// DecodeGEDCOM reads a GEDCOM stream. The first NAME of an individual is
// the birth name; later names become variants. A woman whose later name has
// a different surname gets that surname as LastName and her birth surname as
// MaidenName.
func DecodeGEDCOM(r io.Reader, source models.Source, n Normalizer) (*Dataset, error) {
	doc, err := decoder.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode gedcom: %w", err)
	}
	ds := &Dataset{Source: source}
	for _, ind := range doc.Individuals() {
		if ind == nil || ind.XRef == "" {
			continue
		}
		ds.Persons = append(ds.Persons, personFromIndividual(ind))
	}
	for _, fam := range doc.Families() {
		if fam == nil || fam.XRef == "" {
			continue
		}
		ds.Families = append(ds.Families, &models.FamilyRecord{
			ID:          fam.XRef,
			HusbandID:   fam.Husband,
			WifeID:      fam.Wife,
			ChildrenIDs: append([]string(nil), fam.Children...),
		})
		for _, ev := range fam.Events {
			if ev == nil || ev.Type != gedcom.EventMarriage {
				continue
			}
			f := ds.Families[len(ds.Families)-1]
			f.MarriageDate = ParseDate(ev.Date)
			f.MarriagePlace = eventPlace(ev)
			break
		}
	}
	return finish(ds, n), nil
}

func personFromIndividual(ind *gedcom.Individual) *models.PersonRecord {
	p := &models.PersonRecord{
		ID:       ind.XRef,
		Gender:   models.ParseGender(ind.Sex),
		IsLiving: true,
	}

	for i, name := range ind.Names {
		if name == nil {
			continue
		}
		given, surname, nick := splitName(name.Given, name.Surname, name.Full)
		if i == 0 {
			first, middle, _ := strings.Cut(given, " ")
			p.FirstName, p.MiddleName, p.LastName, p.Nickname = first, strings.TrimSpace(middle), surname, nick
			continue
		}
		if full := strings.TrimSpace(given + " " + surname); full != "" {
			p.NameVariants = append(p.NameVariants, full)
		}
		if p.Gender == models.GenderFemale && surname != "" && p.MaidenName == "" && !strings.EqualFold(surname, p.LastName) {
			p.MaidenName, p.LastName = p.LastName, surname
		}
	}

	birthSeen := false
	for _, ev := range ind.Events {
		if ev == nil {
			continue
		}
		switch string(ev.Type) {
		case "BIRT":
			p.BirthDate, p.BirthPlace = ParseDate(ev.Date), eventPlace(ev)
			birthSeen = true
		case "CHR", "BAPM":
			if !birthSeen {
				p.BirthDate, p.BirthPlace = ParseDate(ev.Date), eventPlace(ev)
			}
		case "DEAT":
			p.DeathDate, p.DeathPlace = ParseDate(ev.Date), eventPlace(ev)
			p.IsLiving = false
		case "BURI", "CREM":
			p.BurialDate, p.BurialPlace = ParseDate(ev.Date), eventPlace(ev)
			p.IsLiving = false
		}
	}
	for _, attr := range ind.Attributes {
		if attr != nil && attr.Type == "OCCU" && p.Occupation == "" {
			p.Occupation = strings.TrimSpace(attr.Value)
		}
	}
	return p
}

func eventPlace(ev *gedcom.Event) string {
	if ev.PlaceDetail != nil && ev.PlaceDetail.Name != "" {
		return strings.TrimSpace(ev.PlaceDetail.Name)
	}
	return strings.TrimSpace(ev.Place)
}

// splitName prefers the structured parts and falls back to the
// "Given /Surname/" form. A quoted part of the given names is a nickname.
func splitName(given, surname, full string) (string, string, string) {
	given, surname = strings.TrimSpace(given), strings.TrimSpace(surname)
	if given == "" && surname == "" {
		before, rest, found := strings.Cut(full, "/")
		given = strings.TrimSpace(before)
		if found {
			s, after, _ := strings.Cut(rest, "/")
			surname = strings.TrimSpace(s)
			if after = strings.TrimSpace(after); after != "" {
				given = strings.TrimSpace(given + " " + after)
			}
		}
	}
	var nick string
	if i := strings.Index(given, `"`); i >= 0 {
		if j := strings.Index(given[i+1:], `"`); j >= 0 {
			nick = given[i+1 : i+1+j]
			given = strings.Join(strings.Fields(given[:i]+given[i+2+j:]), " ")
		}
	}
	return given, surname, nick
}
