package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// IDKind tells which side of the identity union a UserID holds.
type IDKind uint8

const (
	// NoID is the zero UserID.
	NoID IDKind = iota
	// NumericID is assigned by the remote source or synthesized locally.
	NumericID
	// ExternalID is a non-numeric identifier supplied by the remote source.
	ExternalID
)

// UserID identifies a user. Two ids are equal only when both kind and value match,
// so ExternalUserID("5") never equals NumericUserID(5).
type UserID struct {
	kind IDKind
	num  int64
	ext  string
}

// NumericUserID returns a numeric identity.
func NumericUserID(n int64) UserID {
	return UserID{kind: NumericID, num: n}
}

// ExternalUserID returns a string identity.
func ExternalUserID(s string) UserID {
	return UserID{kind: ExternalID, ext: s}
}

// ParseUserID interprets a path segment: base-10 integers, ignoring surrounding
// spaces, become numeric ids. Anything else is kept verbatim as an external id.
func ParseUserID(s string) UserID {
	if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return NumericUserID(n)
	}
	return ExternalUserID(s)
}

// Kind reports which side of the union the id holds.
func (id UserID) Kind() IDKind { return id.kind }

// IsNumeric reports whether the id is a numeric identity.
func (id UserID) IsNumeric() bool { return id.kind == NumericID }

// Int returns the numeric value and whether the id is numeric.
func (id UserID) Int() (int64, bool) {
	return id.num, id.kind == NumericID
}

// String renders numeric ids in base 10 and external ids verbatim.
func (id UserID) String() string {
	switch id.kind {
	case NumericID:
		return strconv.FormatInt(id.num, 10)
	case ExternalID:
		return id.ext
	default:
		return ""
	}
}

// MarshalJSON writes numeric ids as JSON numbers and external ids as strings.
func (id UserID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case NumericID:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	case ExternalID:
		return json.Marshal(id.ext)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts an integer or a string.
func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = UserID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ExternalUserID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("user id %s is neither an integer nor a string", data)
	}
	*id = NumericUserID(n)
	return nil
}

// Geo holds coordinates as the remote source sends them.
type Geo struct {
	Lat string `json:"lat"`
	Lng string `json:"lng"`
}

// Address is a postal address embedded in a User.
type Address struct {
	Street  string `json:"street"`
	Suite   string `json:"suite"`
	City    string `json:"city"`
	Zipcode string `json:"zipcode"`
	Geo     *Geo   `json:"geo,omitempty"`
}

// Format renders the address on one line as "<street> <suite>, <city> <zipcode>".
func (a *Address) Format() string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("%s %s, %s %s", a.Street, a.Suite, a.City, a.Zipcode)
}

// CompanyDetail is the structured form of a company.
type CompanyDetail struct {
	Name        string `json:"name"`
	CatchPhrase string `json:"catchPhrase,omitempty"`
	BS          string `json:"bs,omitempty"`
}

// Company is either a bare name or a CompanyDetail.
type Company struct {
	named  string
	detail *CompanyDetail
}

// NamedCompany returns a company known only by name.
func NamedCompany(name string) *Company {
	return &Company{named: name}
}

// DetailedCompany returns a structured company.
func DetailedCompany(d CompanyDetail) *Company {
	return &Company{detail: &d}
}

// Detail returns the structured form, if that is what the company holds.
func (c *Company) Detail() (CompanyDetail, bool) {
	if c == nil || c.detail == nil {
		return CompanyDetail{}, false
	}
	return *c.detail, true
}

// DisplayName resolves the name shown for a company: the structured name,
// the bare string, or "" for a nil company.
func (c *Company) DisplayName() string {
	if c == nil {
		return ""
	}
	if c.detail != nil {
		return c.detail.Name
	}
	return c.named
}

// MarshalJSON writes a structured company as an object and a bare name as a string.
func (c Company) MarshalJSON() ([]byte, error) {
	if c.detail != nil {
		return json.Marshal(c.detail)
	}
	return json.Marshal(c.named)
}

// UnmarshalJSON accepts either a string or a company object.
func (c *Company) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Company{named: s}
		return nil
	}
	var d CompanyDetail
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("company must be a string or an object: %w", err)
	}
	*c = Company{detail: &d}
	return nil
}

// User represents an entry of the directory.
type User struct {
	ID      UserID   `json:"id"`
	Name    string   `json:"name" validate:"notblank"`
	Email   string   `json:"email" validate:"required,simpleemail"`
	Phone   string   `json:"phone,omitempty"`
	Website string   `json:"website,omitempty"`
	Address *Address `json:"address,omitempty"`
	Company *Company `json:"company,omitempty"`
}

// CompanyName is the display name of the user's company.
func (u User) CompanyName() string {
	return u.Company.DisplayName()
}

// UserPatch lists the fields an update replaces. Nil fields are left alone;
// a non-nil Address or Company replaces the whole nested value.
type UserPatch struct {
	Name    *string  `json:"name,omitempty" validate:"omitnil,notblank"`
	Email   *string  `json:"email,omitempty" validate:"omitnil,required,simpleemail"`
	Phone   *string  `json:"phone,omitempty"`
	Website *string  `json:"website,omitempty"`
	Address *Address `json:"address,omitempty"`
	Company *Company `json:"company,omitempty"`
}

// IsEmpty reports whether the patch names no field.
func (p UserPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Phone == nil &&
		p.Website == nil && p.Address == nil && p.Company == nil
}

// Apply returns u shallow-merged with the patch. The id never changes.
func (p UserPatch) Apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.Website != nil {
		u.Website = *p.Website
	}
	if p.Address != nil {
		u.Address = p.Address
	}
	if p.Company != nil {
		u.Company = p.Company
	}
	return u
}

// UniqueByID drops records whose id already appeared earlier in users, keeping
// the first occurrence. It returns the kept records and the dropped ids.
func UniqueByID(users []User) ([]User, []UserID) {
	seen := make(map[UserID]struct{}, len(users))
	kept := make([]User, 0, len(users))
	var dropped []UserID
	for _, u := range users {
		if _, ok := seen[u.ID]; ok {
			dropped = append(dropped, u.ID)
			continue
		}
		seen[u.ID] = struct{}{}
		kept = append(kept, u)
	}
	return kept, dropped
}
