// Package query derives the display order of a user collection.
package query

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"userdir/internal/models"
)

// SortKey names the field a view is ordered by.
type SortKey string

const (
	SortByID      SortKey = "id"
	SortByName    SortKey = "name"
	SortByEmail   SortKey = "email"
	SortByCompany SortKey = "company"
)

// SortDirection orders a view ascending or descending.
type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

var (
	ErrInvalidSortKey       = errors.New("invalid sort key")
	ErrInvalidSortDirection = errors.New("invalid sort direction")
)

// ParseSortKey validates a sort key; the empty string selects SortByID.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortByID, nil
	case SortByID, SortByName, SortByEmail, SortByCompany:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortKey, s)
	}
}

// ParseSortDirection validates a direction; the empty string selects Ascending.
func ParseSortDirection(s string) (SortDirection, error) {
	switch d := SortDirection(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return Ascending, nil
	case Ascending, Descending:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortDirection, s)
	}
}

// Derive returns the users matching query, ordered by key and dir. A record matches
// when its case-folded name or email contains the trimmed, case-folded query.
// The sort is stable, so records with equal keys keep their collection order.
// The input slice is never modified.
func Derive(users []models.User, query string, key SortKey, dir SortDirection) []models.User {
	q := strings.ToLower(strings.TrimSpace(query))

	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if q == "" || matches(u, q) {
			out = append(out, u)
		}
	}

	sign := 1
	if dir == Descending {
		sign = -1
	}
	slices.SortStableFunc(out, func(a, b models.User) int {
		return sign * strings.Compare(sortValue(a, key), sortValue(b, key))
	})
	return out
}

func matches(u models.User, q string) bool {
	return strings.Contains(strings.ToLower(u.Name), q) ||
		strings.Contains(strings.ToLower(u.Email), q)
}

// sortValue is the case-folded string a record is compared by.
func sortValue(u models.User, key SortKey) string {
	var v string
	switch key {
	case SortByName:
		v = u.Name
	case SortByEmail:
		v = u.Email
	case SortByCompany:
		v = u.CompanyName()
	default:
		v = u.ID.String()
	}
	return strings.ToLower(v)
}
