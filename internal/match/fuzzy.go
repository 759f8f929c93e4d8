// Package match scores individuals and families across two trees.
package match

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/names"
)

// NameService is the name equivalence and transliteration primitive the
// matcher relies on. *names.Service implements it.
type NameService interface {
	AreEquivalent(a, b string) bool
	Transliterate(text string) string
	NormalizeSurname(name string, g models.Gender) string
}

// Directory resolves person ids, so relatives of compared persons can be
// looked at even when they are not mapped yet. *tree.Graph implements it.
type Directory interface {
	Person(id string) *models.PersonRecord
}

// Comparer scores one source person against one destination person.
type Comparer interface {
	Compare(src, dst *models.PersonRecord) Candidate
}

// Field names used in Reason.Field.
const (
	FieldFirstName       = "first_name"
	FieldLastName        = "last_name"
	FieldBirthDate       = "birth_date"
	FieldBirthPlace      = "birth_place"
	FieldDeathDate       = "death_date"
	FieldGender          = "gender"
	FieldFamilyRelations = "family_relations"
)

// Weights are the relative importance of each field. They need not sum to
// 100; scores are normalized by the total.
type Weights struct {
	FirstName       float64 `yaml:"first_name" json:"first_name"`
	LastName        float64 `yaml:"last_name" json:"last_name"`
	BirthDate       float64 `yaml:"birth_date" json:"birth_date"`
	BirthPlace      float64 `yaml:"birth_place" json:"birth_place"`
	DeathDate       float64 `yaml:"death_date" json:"death_date"`
	Gender          float64 `yaml:"gender" json:"gender"`
	FamilyRelations float64 `yaml:"family_relations" json:"family_relations"`
}

// DefaultWeights returns 30/25/20/15/5/5 with family relations disabled.
func DefaultWeights() Weights {
	return Weights{
		FirstName:  30,
		LastName:   25,
		BirthDate:  20,
		BirthPlace: 15,
		DeathDate:  5,
		Gender:     5,
	}
}

// Total is the sum of the non-negative weights.
func (w Weights) Total() float64 {
	var t float64
	for _, v := range []float64{w.FirstName, w.LastName, w.BirthDate, w.BirthPlace, w.DeathDate, w.Gender, w.FamilyRelations} {
		if v > 0 {
			t += v
		}
	}
	return t
}

// Reason explains one field's contribution to a score.
type Reason struct {
	Field      string  `json:"field"`
	Similarity float64 `json:"similarity"`
	Points     float64 `json:"points"`
	Detail     string  `json:"detail"`
}

// RelationMatches counts relatives that look alike on both sides.
type RelationMatches struct {
	Parents       int  `json:"parents"`
	ParentsTotal  int  `json:"parents_total"`
	Children      int  `json:"children"`
	ChildrenTotal int  `json:"children_total"`
	Siblings      int  `json:"siblings"`
	SiblingsTotal int  `json:"siblings_total"`
	Spouse        bool `json:"spouse"`
	SpouseTotal   int  `json:"spouse_total"`
}

func (r RelationMatches) ratio() float64 {
	total := r.ParentsTotal + r.ChildrenTotal + r.SiblingsTotal + r.SpouseTotal
	if total == 0 {
		return 0
	}
	matched := r.Parents + r.Children + r.Siblings
	if r.Spouse {
		matched++
	}
	return float64(matched) / float64(total)
}

// Candidate is a scored destination person.
type Candidate struct {
	ID        string               `json:"id"`
	Person    *models.PersonRecord `json:"-"`
	Score     int                  `json:"score"`
	Reasons   []Reason             `json:"reasons"`
	Relations RelationMatches      `json:"relations"`
}

// Matcher computes weighted attribute similarity between two persons.
// It holds no mutable state and is safe for concurrent use.
type Matcher struct {
	names       NameService
	weights     Weights
	maxYearDiff int
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithWeights overrides the default field weights.
func WithWeights(w Weights) Option {
	return func(m *Matcher) { m.weights = w }
}

// WithMaxBirthYearDifference sets the year tolerance for partial date credit.
func WithMaxBirthYearDifference(years int) Option {
	return func(m *Matcher) { m.maxYearDiff = years }
}

// NewMatcher creates a Matcher using svc for name normalization.
func NewMatcher(svc NameService, opts ...Option) *Matcher {
	m := &Matcher{
		names:       svc,
		weights:     DefaultWeights(),
		maxYearDiff: 10,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Compare scores src against dst using attributes only.
func (m *Matcher) Compare(src, dst *models.PersonRecord) Candidate {
	return m.CompareInContext(src, dst, nil, nil)
}

// CompareInContext scores src against dst. When both directories are given,
// relatives are resolved through them to fill Relations and the optional
// family-relations component.
func (m *Matcher) CompareInContext(src, dst *models.PersonRecord, srcDir, dstDir Directory) Candidate {
	c := Candidate{ID: dst.ID, Person: dst}

	var raw float64
	add := func(field string, weight, sim float64, detail string) {
		if weight < 0 {
			weight = 0
		}
		pts := weight * sim
		raw += pts
		c.Reasons = append(c.Reasons, Reason{Field: field, Similarity: round2(sim), Points: round2(pts), Detail: detail})
	}

	sim, detail := m.firstNameSimilarity(src, dst)
	add(FieldFirstName, m.weights.FirstName, sim, detail)

	sim, detail = m.lastNameSimilarity(src, dst)
	add(FieldLastName, m.weights.LastName, sim, detail)

	sim, detail = dateSimilarity(src.BirthDate, dst.BirthDate, m.maxYearDiff)
	add(FieldBirthDate, m.weights.BirthDate, sim, detail)

	sim, detail = placeSimilarity(src.BirthPlace, dst.BirthPlace)
	add(FieldBirthPlace, m.weights.BirthPlace, sim, detail)

	sim, detail = dateSimilarity(src.DeathDate, dst.DeathDate, m.maxYearDiff)
	add(FieldDeathDate, m.weights.DeathDate, sim, detail)

	switch {
	case src.Gender == models.GenderUnknown || dst.Gender == models.GenderUnknown:
		add(FieldGender, m.weights.Gender, 0, "missing")
	case src.Gender == dst.Gender:
		add(FieldGender, m.weights.Gender, 1, "same")
	default:
		add(FieldGender, m.weights.Gender, 0, "different")
	}

	if srcDir != nil && dstDir != nil {
		c.Relations = m.relationMatches(src, dst, srcDir, dstDir)
		if m.weights.FamilyRelations > 0 {
			r := c.Relations.ratio()
			add(FieldFamilyRelations, m.weights.FamilyRelations, r, fmt.Sprintf("%.0f%% of relatives alike", r*100))
		}
	}

	total := m.weights.Total()
	if total > 0 {
		c.Score = clampScore(int(math.Round(100 * raw / total)))
	}
	return c
}

// FindMatches returns every candidate scoring at least minScore, best first,
// ties broken by ascending candidate id.
func (m *Matcher) FindMatches(src *models.PersonRecord, candidates []*models.PersonRecord, minScore int) []Candidate {
	return m.FindMatchesInContext(src, candidates, minScore, nil, nil)
}

// FindMatchesInContext is FindMatches with relative resolution.
func (m *Matcher) FindMatchesInContext(src *models.PersonRecord, candidates []*models.PersonRecord, minScore int, srcDir, dstDir Directory) []Candidate {
	var out []Candidate
	for _, dst := range candidates {
		if dst == nil {
			continue
		}
		c := m.CompareInContext(src, dst, srcDir, dstDir)
		if c.Score >= minScore {
			out = append(out, c)
		}
	}
	SortCandidates(out)
	return out
}

// Bind returns a Comparer that resolves relatives through the directories.
func (m *Matcher) Bind(srcDir, dstDir Directory) Comparer {
	return boundMatcher{m: m, src: srcDir, dst: dstDir}
}

type boundMatcher struct {
	m        *Matcher
	src, dst Directory
}

func (b boundMatcher) Compare(src, dst *models.PersonRecord) Candidate {
	return b.m.CompareInContext(src, dst, b.src, b.dst)
}

// SortCandidates orders by descending score then ascending id.
func SortCandidates(cs []Candidate) {
	slices.SortStableFunc(cs, func(a, b Candidate) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func (m *Matcher) normalizedFirst(p *models.PersonRecord) string {
	if p.NormalizedFirstName != "" {
		return p.NormalizedFirstName
	}
	return names.Fold(m.names.Transliterate(p.FirstName))
}

func (m *Matcher) firstNameSimilarity(a, b *models.PersonRecord) (float64, string) {
	na, nb := m.normalizedFirst(a), m.normalizedFirst(b)
	if na == "" || nb == "" {
		return 0, "missing"
	}
	if na == nb {
		return 1, "exact"
	}
	if m.names.AreEquivalent(a.FirstName, b.FirstName) {
		return 0.9, "name variant"
	}
	best, detail := stringSimilarity(na, nb), "similar spelling"
	ta, tb := firstToken(na), firstToken(nb)
	if ta != na || tb != nb {
		switch {
		case ta == tb:
			best, detail = max(best, 0.85), "same first given name"
		case m.names.AreEquivalent(ta, tb):
			best, detail = max(best, 0.8), "first given name variant"
		}
	}
	if best < 0.85 && (a.Nickname != "" && m.names.AreEquivalent(a.Nickname, b.FirstName) ||
		b.Nickname != "" && m.names.AreEquivalent(b.Nickname, a.FirstName)) {
		best, detail = 0.85, "nickname"
	}
	return best, detail
}

func (m *Matcher) lastNameSimilarity(a, b *models.PersonRecord) (float64, string) {
	sa := surnames(m.names, a)
	sb := surnames(m.names, b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0, "missing"
	}
	best, detail := 0.0, "different"
	for i, x := range sa {
		for j, y := range sb {
			if x == y {
				if i == 0 && j == 0 {
					return 1, "exact"
				}
				return 0.95, "maiden name"
			}
			if s := stringSimilarity(x, y); s > best {
				best, detail = s, "similar spelling"
			}
		}
	}
	return best, detail
}

// surnames returns the normalized last name followed by the maiden name.
func surnames(svc NameService, p *models.PersonRecord) []string {
	var out []string
	for _, s := range []string{p.LastName, p.MaidenName} {
		if n := svc.NormalizeSurname(s, p.Gender); n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// relationMatches counts relatives that look alike by first name and
// birth year, one-to-one per relation kind.
func (m *Matcher) relationMatches(src, dst *models.PersonRecord, srcDir, dstDir Directory) RelationMatches {
	var r RelationMatches
	resolve := func(dir Directory, ids ...string) []*models.PersonRecord {
		var out []*models.PersonRecord
		for _, id := range ids {
			if p := dir.Person(id); p != nil {
				out = append(out, p)
			}
		}
		return out
	}
	count := func(as, bs []*models.PersonRecord) (int, int) {
		used := make([]bool, len(bs))
		matched := 0
		for _, a := range as {
			for j, b := range bs {
				if !used[j] && m.looksAlike(a, b) {
					used[j] = true
					matched++
					break
				}
			}
		}
		return matched, max(len(as), len(bs))
	}

	r.Parents, r.ParentsTotal = count(resolve(srcDir, src.FatherID, src.MotherID), resolve(dstDir, dst.FatherID, dst.MotherID))
	r.Children, r.ChildrenTotal = count(resolve(srcDir, src.ChildrenIDs...), resolve(dstDir, dst.ChildrenIDs...))
	r.Siblings, r.SiblingsTotal = count(resolve(srcDir, src.SiblingIDs...), resolve(dstDir, dst.SiblingIDs...))
	spouses, spouseTotal := count(resolve(srcDir, src.SpouseIDs...), resolve(dstDir, dst.SpouseIDs...))
	r.Spouse = spouses > 0
	if spouseTotal > 0 {
		r.SpouseTotal = 1
	}
	return r
}

func (m *Matcher) looksAlike(a, b *models.PersonRecord) bool {
	sim, _ := m.firstNameSimilarity(a, b)
	if sim < 0.8 {
		return false
	}
	if a.BirthYear() != 0 && b.BirthYear() != 0 {
		d := a.BirthYear() - b.BirthYear()
		return d >= -5 && d <= 5
	}
	return true
}

func clampScore(s int) int {
	return min(100, max(0, s))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
