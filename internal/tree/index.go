// Package tree builds read-only lookup structures over a family graph and
// provides traversal helpers over them.
package tree

import (
	"slices"

	"github.com/starford/treesync/internal/models"
)

// Graph is the indexed, read-only form of one family tree.
// Every map is non-nil, even for an empty input.
type Graph struct {
	PersonsByID                 map[string]*models.PersonRecord
	FamiliesByID                map[string]*models.FamilyRecord
	PersonToFamiliesAsSpouse    map[string][]string
	PersonToFamiliesAsChild     map[string][]string
	PersonsByBirthYear          map[int][]string
	PersonsByNormalizedLastName map[string][]string

	personIDs []string
}

// Build indexes persons and families in a single pass over each.
// Adjacency lists are sorted by family id so traversal order is stable.
// Families referencing unknown persons are kept; lookups of those ids simply
// miss, which callers report as stale references.
func Build(persons []*models.PersonRecord, families []*models.FamilyRecord) *Graph {
	g := &Graph{
		PersonsByID:                 make(map[string]*models.PersonRecord, len(persons)),
		FamiliesByID:                make(map[string]*models.FamilyRecord, len(families)),
		PersonToFamiliesAsSpouse:    make(map[string][]string),
		PersonToFamiliesAsChild:     make(map[string][]string),
		PersonsByBirthYear:          make(map[int][]string),
		PersonsByNormalizedLastName: make(map[string][]string),
	}

	for _, p := range persons {
		if p == nil || p.ID == "" {
			continue
		}
		if _, dup := g.PersonsByID[p.ID]; dup {
			continue
		}
		g.PersonsByID[p.ID] = p
		g.personIDs = append(g.personIDs, p.ID)
		if y := p.BirthYear(); y != 0 {
			g.PersonsByBirthYear[y] = append(g.PersonsByBirthYear[y], p.ID)
		}
		if p.NormalizedLastName != "" {
			g.PersonsByNormalizedLastName[p.NormalizedLastName] = append(g.PersonsByNormalizedLastName[p.NormalizedLastName], p.ID)
		}
	}

	for _, f := range families {
		if f == nil || f.ID == "" {
			continue
		}
		if _, dup := g.FamiliesByID[f.ID]; dup {
			continue
		}
		g.FamiliesByID[f.ID] = f
		for _, spouse := range []string{f.HusbandID, f.WifeID} {
			if spouse != "" {
				g.PersonToFamiliesAsSpouse[spouse] = appendUnique(g.PersonToFamiliesAsSpouse[spouse], f.ID)
			}
		}
		for _, child := range f.ChildrenIDs {
			if child != "" {
				g.PersonToFamiliesAsChild[child] = appendUnique(g.PersonToFamiliesAsChild[child], f.ID)
			}
		}
	}

	for _, ids := range g.PersonToFamiliesAsSpouse {
		slices.Sort(ids)
	}
	for _, ids := range g.PersonToFamiliesAsChild {
		slices.Sort(ids)
	}
	for _, ids := range g.PersonsByBirthYear {
		slices.Sort(ids)
	}
	for _, ids := range g.PersonsByNormalizedLastName {
		slices.Sort(ids)
	}
	slices.Sort(g.personIDs)
	return g
}

// Person returns the person with id, or nil.
func (g *Graph) Person(id string) *models.PersonRecord {
	if g == nil || id == "" {
		return nil
	}
	return g.PersonsByID[id]
}

// Family returns the family with id, or nil.
func (g *Graph) Family(id string) *models.FamilyRecord {
	if g == nil || id == "" {
		return nil
	}
	return g.FamiliesByID[id]
}

// PersonIDs returns every person id in ascending order.
func (g *Graph) PersonIDs() []string {
	return slices.Clone(g.personIDs)
}

// Len returns the number of persons.
func (g *Graph) Len() int {
	return len(g.PersonsByID)
}

// CandidatesByBirthYear returns ids of persons born within tolerance years
// of year, in ascending id order.
func (g *Graph) CandidatesByBirthYear(year, tolerance int) []string {
	var out []string
	for y := year - tolerance; y <= year+tolerance; y++ {
		out = append(out, g.PersonsByBirthYear[y]...)
	}
	slices.Sort(out)
	return out
}

func appendUnique(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
