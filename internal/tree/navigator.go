package tree

import (
	"iter"

	"github.com/starford/treesync/internal/models"
)

// FamilyRef is a family together with the role a person plays in it
// (RelationChild or RelationSpouse).
type FamilyRef struct {
	Family *models.FamilyRecord
	Role   models.RelationKind
}

// Relative is a neighbour of a person, tagged with how it relates to that
// person and the family through which the relation exists.
type Relative struct {
	Person   *models.PersonRecord
	Relation models.RelationKind
	FamilyID string
}

// The functions below are pure: each returned sequence recomputes from the
// graph when ranged over, so it can be iterated any number of times and from
// several goroutines.

// FamiliesAsSpouse yields the families personID is a spouse in, by family id.
func FamiliesAsSpouse(g *Graph, personID string) iter.Seq[*models.FamilyRecord] {
	return families(g, g.PersonToFamiliesAsSpouse[personID])
}

// FamiliesAsChild yields the families personID is a child in, by family id.
func FamiliesAsChild(g *Graph, personID string) iter.Seq[*models.FamilyRecord] {
	return families(g, g.PersonToFamiliesAsChild[personID])
}

func families(g *Graph, ids []string) iter.Seq[*models.FamilyRecord] {
	return func(yield func(*models.FamilyRecord) bool) {
		for _, id := range ids {
			f := g.Family(id)
			if f == nil {
				continue
			}
			if !yield(f) {
				return
			}
		}
	}
}

// Parents yields the distinct husband/wife of every family personID is a
// child in.
func Parents(g *Graph, personID string) iter.Seq[*models.PersonRecord] {
	return func(yield func(*models.PersonRecord) bool) {
		for rel := range relatives(g, personID, models.RelationParent) {
			if !yield(rel.Person) {
				return
			}
		}
	}
}

// Spouses yields the distinct other spouses across personID's unions.
func Spouses(g *Graph, personID string) iter.Seq[*models.PersonRecord] {
	return func(yield func(*models.PersonRecord) bool) {
		for rel := range relatives(g, personID, models.RelationSpouse) {
			if !yield(rel.Person) {
				return
			}
		}
	}
}

// Children yields the distinct children across personID's unions.
func Children(g *Graph, personID string) iter.Seq[*models.PersonRecord] {
	return func(yield func(*models.PersonRecord) bool) {
		for rel := range relatives(g, personID, models.RelationChild) {
			if !yield(rel.Person) {
				return
			}
		}
	}
}

// Siblings yields the other children of personID's families-as-child.
// It is empty when the person is nobody's child.
func Siblings(g *Graph, personID string) iter.Seq[*models.PersonRecord] {
	return func(yield func(*models.PersonRecord) bool) {
		for rel := range relatives(g, personID, models.RelationSibling) {
			if !yield(rel.Person) {
				return
			}
		}
	}
}

// ImmediateRelatives yields parents, spouses, children and siblings, in that
// order, each tagged with its relation kind.
func ImmediateRelatives(g *Graph, personID string) iter.Seq[Relative] {
	return func(yield func(Relative) bool) {
		for _, kind := range []models.RelationKind{
			models.RelationParent, models.RelationSpouse, models.RelationChild, models.RelationSibling,
		} {
			for rel := range relatives(g, personID, kind) {
				if !yield(rel) {
					return
				}
			}
		}
	}
}

// AllFamilies yields every family personID participates in: families as
// child first, then families as spouse.
func AllFamilies(g *Graph, personID string) iter.Seq[FamilyRef] {
	return func(yield func(FamilyRef) bool) {
		for f := range FamiliesAsChild(g, personID) {
			if !yield(FamilyRef{Family: f, Role: models.RelationChild}) {
				return
			}
		}
		for f := range FamiliesAsSpouse(g, personID) {
			if !yield(FamilyRef{Family: f, Role: models.RelationSpouse}) {
				return
			}
		}
	}
}

func relatives(g *Graph, personID string, kind models.RelationKind) iter.Seq[Relative] {
	return func(yield func(Relative) bool) {
		seen := map[string]struct{}{personID: {}}
		emit := func(id, familyID string) bool {
			if id == "" {
				return true
			}
			if _, ok := seen[id]; ok {
				return true
			}
			seen[id] = struct{}{}
			p := g.Person(id)
			if p == nil {
				return true
			}
			return yield(Relative{Person: p, Relation: kind, FamilyID: familyID})
		}

		switch kind {
		case models.RelationParent:
			for f := range FamiliesAsChild(g, personID) {
				if !emit(f.HusbandID, f.ID) || !emit(f.WifeID, f.ID) {
					return
				}
			}
		case models.RelationSibling:
			for f := range FamiliesAsChild(g, personID) {
				for _, c := range f.ChildrenIDs {
					if !emit(c, f.ID) {
						return
					}
				}
			}
		case models.RelationSpouse:
			for f := range FamiliesAsSpouse(g, personID) {
				if !emit(f.OtherSpouse(personID), f.ID) {
					return
				}
			}
		case models.RelationChild:
			for f := range FamiliesAsSpouse(g, personID) {
				for _, c := range f.ChildrenIDs {
					if !emit(c, f.ID) {
						return
					}
				}
			}
		}
	}
}
