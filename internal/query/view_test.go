package query_test

import (
	"errors"
	"testing"

	"userdir/internal/models"
	"userdir/internal/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(users []models.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Name)
	}
	return out
}

func twoUsers() []models.User {
	return []models.User{
		{ID: models.NumericUserID(1), Name: "Leanne Graham", Email: "a@b.com"},
		{ID: models.NumericUserID(2), Name: "Ervin Howell", Email: "x@y.com"},
	}
}

func TestDerive_FiltersByNameOrEmail(t *testing.T) {
	users := twoUsers()

	got := query.Derive(users, "lea", query.SortByID, query.Ascending)
	require.Len(t, got, 1)
	assert.Equal(t, users[0], got[0])

	got = query.Derive(users, "  X@Y  ", query.SortByID, query.Ascending)
	assert.Equal(t, []string{"Ervin Howell"}, names(got), "query is trimmed and case-folded and matches email")

	got = query.Derive(users, "zzz", query.SortByID, query.Ascending)
	assert.Empty(t, got)

	got = query.Derive(users, "   ", query.SortByID, query.Ascending)
	assert.Len(t, got, 2, "a blank query keeps every record")
}

func TestDerive_MissingFieldsMatchAsEmpty(t *testing.T) {
	users := []models.User{{ID: models.NumericUserID(1)}, {ID: models.NumericUserID(2), Name: "Kurtis"}}

	got := query.Derive(users, "kurt", query.SortByName, query.Ascending)
	assert.Equal(t, []string{"Kurtis"}, names(got))
}

func TestDerive_SortsCaseFolded(t *testing.T) {
	users := twoUsers()

	got := query.Derive(users, "", query.SortByName, query.Ascending)
	assert.Equal(t, []string{"Ervin Howell", "Leanne Graham"}, names(got))

	got = query.Derive(users, "", query.SortByName, query.Descending)
	assert.Equal(t, []string{"Leanne Graham", "Ervin Howell"}, names(got))

	mixed := []models.User{
		{ID: models.NumericUserID(1), Name: "bob", Email: "B@x.io"},
		{ID: models.NumericUserID(2), Name: "Alice", Email: "a@x.io"},
	}
	got = query.Derive(mixed, "", query.SortByEmail, query.Ascending)
	assert.Equal(t, []string{"Alice", "bob"}, names(got))
}

func TestDerive_IDsCompareAsStrings(t *testing.T) {
	users := []models.User{
		{ID: models.NumericUserID(2), Name: "two"},
		{ID: models.NumericUserID(10), Name: "ten"},
		{ID: models.ExternalUserID("Abc"), Name: "abc"},
	}

	got := query.Derive(users, "", query.SortByID, query.Ascending)
	assert.Equal(t, []string{"ten", "two", "abc"}, names(got))
}

func TestDerive_CompanyResolution(t *testing.T) {
	users := []models.User{
		{ID: models.NumericUserID(1), Name: "structured", Company: models.DetailedCompany(models.CompanyDetail{Name: "Zeta"})},
		{ID: models.NumericUserID(2), Name: "bare", Company: models.NamedCompany("alpha")},
		{ID: models.NumericUserID(3), Name: "none"},
		{ID: models.NumericUserID(4), Name: "upper", Company: models.NamedCompany("Beta")},
	}

	got := query.Derive(users, "", query.SortByCompany, query.Ascending)
	assert.Equal(t, []string{"none", "bare", "upper", "structured"}, names(got))
}

func TestDerive_StableForEqualKeys(t *testing.T) {
	users := []models.User{
		{ID: models.NumericUserID(1), Name: "first", Company: models.NamedCompany("Same")},
		{ID: models.NumericUserID(2), Name: "second", Company: models.NamedCompany("same")},
		{ID: models.NumericUserID(3), Name: "third", Company: models.NamedCompany("SAME")},
	}

	asc := query.Derive(users, "", query.SortByCompany, query.Ascending)
	desc := query.Derive(users, "", query.SortByCompany, query.Descending)
	assert.Equal(t, []string{"first", "second", "third"}, names(asc))
	assert.Equal(t, []string{"first", "second", "third"}, names(desc), "ties keep input order in both directions")
}

func TestDerive_IsPure(t *testing.T) {
	users := []models.User{
		{ID: models.NumericUserID(3), Name: "Chelsey", Email: "c@x.io"},
		{ID: models.NumericUserID(1), Name: "Leanne", Email: "l@x.io"},
		{ID: models.NumericUserID(2), Name: "Ervin", Email: "e@x.io"},
	}
	before := append([]models.User(nil), users...)

	first := query.Derive(users, "e", query.SortByName, query.Descending)
	second := query.Derive(users, "e", query.SortByName, query.Descending)

	assert.Equal(t, first, second)
	assert.Equal(t, before, users, "the collection is left untouched")
}

func TestParseSortKeyAndDirection(t *testing.T) {
	key, err := query.ParseSortKey("")
	require.NoError(t, err)
	assert.Equal(t, query.SortByID, key)

	key, err = query.ParseSortKey("Company")
	require.NoError(t, err)
	assert.Equal(t, query.SortByCompany, key)

	_, err = query.ParseSortKey("phone")
	assert.True(t, errors.Is(err, query.ErrInvalidSortKey))

	dir, err := query.ParseSortDirection("")
	require.NoError(t, err)
	assert.Equal(t, query.Ascending, dir)

	dir, err = query.ParseSortDirection("DESC")
	require.NoError(t, err)
	assert.Equal(t, query.Descending, dir)

	_, err = query.ParseSortDirection("up")
	assert.True(t, errors.Is(err, query.ErrInvalidSortDirection))
}
