// Package loader reads family trees from GEDCOM files and JSON snapshots
// into the normalized person and family model.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/starford/treesync/internal/apperr"
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/tree"
)

// Normalizer fills the normalized name shadow. *names.Service satisfies it.
type Normalizer interface {
	Normalize(name string) string
	NormalizeSurname(name string, g models.Gender) string
}

// Dataset is one loaded tree before indexing.
type Dataset struct {
	Source   models.Source
	Persons  []*models.PersonRecord
	Families []*models.FamilyRecord
	// Warnings lists references to records missing from the file. They are
	// kept in the data; the engine reports them as anomalies when it runs
	// into them.
	Warnings []string
}

// Graph indexes the dataset.
func (d *Dataset) Graph() *tree.Graph {
	return tree.Build(d.Persons, d.Families)
}

// LoadFile picks the decoder from the file extension.
func LoadFile(path string, source models.Source, n Normalizer) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var ds *Dataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ged", ".gedcom":
		ds, err = DecodeGEDCOM(f, source, n)
	case ".json":
		ds, err = DecodeJSON(f, source, n)
	default:
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnsupported, path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return ds, nil
}

// finish derives person-level relation lists from families, fills the
// normalized names and sorts everything by id.
func finish(ds *Dataset, n Normalizer) *Dataset {
	byID := make(map[string]*models.PersonRecord, len(ds.Persons))
	for _, p := range ds.Persons {
		p.Source = ds.Source
		p.FatherID, p.MotherID = "", ""
		p.SpouseIDs, p.ChildrenIDs, p.SiblingIDs = nil, nil, nil
		p.FamiliesAsChild, p.FamiliesAsSpouse = nil, nil
		byID[p.ID] = p
	}
	slices.SortFunc(ds.Persons, func(a, b *models.PersonRecord) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(ds.Families, func(a, b *models.FamilyRecord) int { return strings.Compare(a.ID, b.ID) })

	missing := func(fid, id string) *models.PersonRecord {
		if id == "" {
			return nil
		}
		p := byID[id]
		if p == nil {
			ds.Warnings = append(ds.Warnings, fmt.Sprintf("family %s references unknown person %s", fid, id))
		}
		return p
	}

	for _, f := range ds.Families {
		h, w := missing(f.ID, f.HusbandID), missing(f.ID, f.WifeID)
		if h != nil {
			h.FamiliesAsSpouse = addUnique(h.FamiliesAsSpouse, f.ID)
			h.SpouseIDs = addUnique(h.SpouseIDs, f.WifeID)
		}
		if w != nil {
			w.FamiliesAsSpouse = addUnique(w.FamiliesAsSpouse, f.ID)
			w.SpouseIDs = addUnique(w.SpouseIDs, f.HusbandID)
		}
		for _, cid := range f.ChildrenIDs {
			c := missing(f.ID, cid)
			if c == nil {
				continue
			}
			c.FamiliesAsChild = addUnique(c.FamiliesAsChild, f.ID)
			if c.FatherID == "" {
				c.FatherID = f.HusbandID
			}
			if c.MotherID == "" {
				c.MotherID = f.WifeID
			}
			for _, sib := range f.ChildrenIDs {
				if sib != cid {
					c.SiblingIDs = addUnique(c.SiblingIDs, sib)
				}
			}
			if h != nil {
				h.ChildrenIDs = addUnique(h.ChildrenIDs, cid)
			}
			if w != nil {
				w.ChildrenIDs = addUnique(w.ChildrenIDs, cid)
			}
		}
	}

	if n != nil {
		for _, p := range ds.Persons {
			p.NormalizedFirstName = n.Normalize(p.FirstName)
			p.NormalizedLastName = n.NormalizeSurname(p.LastName, p.Gender)
		}
	}
	return ds
}

func addUnique(ids []string, id string) []string {
	if id == "" || slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
