// Package testutil provides shared test helpers for setting up databases,
// output directories and small family trees.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/treesync/internal/loader"
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/storage"
	"github.com/starford/treesync/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "treesync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestOutput creates a temporary output directory with a storage.Provider.
func TestOutput(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// Person is a terse constructor for test fixtures.
func Person(id, first, last string, g models.Gender, birthYear int) *models.PersonRecord {
	p := &models.PersonRecord{ID: id, FirstName: first, LastName: last, Gender: g}
	if birthYear != 0 {
		p.BirthDate = models.NewDate(birthYear, 0, 0, models.DateExact, "")
	}
	return p
}

// WriteSnapshot writes a JSON tree file under dir and returns its path.
func WriteSnapshot(t *testing.T, dir, name string, snap loader.Snapshot) string {
	t.Helper()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ThreeGenerations returns two copies of the same family: grandparents,
// their son and his wife, and two grandchildren. The destination copy
// prefixes every id with "D" and drops the younger grandchild, which is
// therefore left for the report to propose as an addition.
func ThreeGenerations() (src, dst loader.Snapshot) {
	build := func(prefix string, withYoungest bool) loader.Snapshot {
		id := func(s string) string { return prefix + s }
		persons := []*models.PersonRecord{
			Person(id("I1"), "John", "Miller", models.GenderMale, 1900),
			Person(id("I2"), "Mary", "Miller", models.GenderFemale, 1903),
			Person(id("I3"), "Robert", "Miller", models.GenderMale, 1930),
			Person(id("I4"), "Helen", "Miller", models.GenderFemale, 1932),
			Person(id("I5"), "James", "Miller", models.GenderMale, 1960),
		}
		persons[3].MaidenName = "Clark"
		kids := []string{id("I5")}
		if withYoungest {
			persons = append(persons, Person(id("I6"), "Susan", "Miller", models.GenderFemale, 1963))
			kids = append(kids, id("I6"))
		}
		families := []*models.FamilyRecord{
			{ID: id("F1"), HusbandID: id("I1"), WifeID: id("I2"), ChildrenIDs: []string{id("I3")}},
			{ID: id("F2"), HusbandID: id("I3"), WifeID: id("I4"), ChildrenIDs: kids},
		}
		return loader.Snapshot{Persons: persons, Families: families}
	}
	return build("@", true), build("@D", false)
}
