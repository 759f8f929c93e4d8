package loader

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/starford/treesync/internal/models"
)

// Snapshot is the JSON export of a tree. Families may be omitted when the
// persons carry father, mother and spouse ids; they are rebuilt then.
type Snapshot struct {
	Persons  []*models.PersonRecord `json:"persons"`
	Families []*models.FamilyRecord `json:"families,omitempty"`
}

// DecodeJSON reads a Snapshot.
func DecodeJSON(r io.Reader, source models.Source, n Normalizer) (*Dataset, error) {
	var snap Snapshot
	dec := json.NewDecoder(r)
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode json snapshot: %w", err)
	}
	ds := &Dataset{Source: source}
	for _, p := range snap.Persons {
		if p == nil || p.ID == "" {
			continue
		}
		ds.Persons = append(ds.Persons, p)
	}
	ds.Families = snap.Families
	if len(ds.Families) == 0 {
		ds.Families = familiesFromLinks(ds.Persons)
	}
	return finish(ds, n), nil
}

// familiesFromLinks groups children by their (father, mother) pair and adds
// a childless family for every spouse pair not covered by one.
func familiesFromLinks(persons []*models.PersonRecord) []*models.FamilyRecord {
	byKey := make(map[string]*models.FamilyRecord)
	var order []string
	get := func(h, w string) *models.FamilyRecord {
		key := h + "+" + w
		if f, ok := byKey[key]; ok {
			return f
		}
		f := &models.FamilyRecord{ID: "F:" + key, HusbandID: h, WifeID: w}
		byKey[key] = f
		order = append(order, key)
		return f
	}

	byID := make(map[string]*models.PersonRecord, len(persons))
	for _, p := range persons {
		byID[p.ID] = p
	}
	for _, p := range persons {
		if p.FatherID == "" && p.MotherID == "" {
			continue
		}
		f := get(p.FatherID, p.MotherID)
		f.ChildrenIDs = append(f.ChildrenIDs, p.ID)
	}
	for _, p := range persons {
		for _, s := range p.SpouseIDs {
			h, w := p.ID, s
			if sp := byID[s]; p.Gender == models.GenderFemale || sp != nil && sp.Gender == models.GenderMale {
				h, w = s, p.ID
			}
			if _, ok := byKey[h+"+"+w]; ok {
				continue
			}
			if _, ok := byKey[w+"+"+h]; ok {
				continue
			}
			get(h, w)
		}
	}

	out := make([]*models.FamilyRecord, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}
