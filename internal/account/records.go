// Package account owns the user, profile and business records the callables mutate,
// and the store operations over them.
package account

import (
	"strings"
	"time"
)

// Collections.
const (
	UsersCollection       = "users"
	BusinessesCollection  = "businesses"
	LinksCollection       = "business_professionals"
	profilesSubcollection = "profiles"
)

// Status values.
const (
	StatusActive = "active"
)

// ProfilesCollection is the per-user profile subcollection.
func ProfilesCollection(uid string) string {
	return UsersCollection + "/" + uid + "/" + profilesSubcollection
}

// User is one document of the users collection.
type User struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	Roles       []string  `json:"roles"`
	ActiveRole  string    `json:"activeRole,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasRole reports whether role was granted.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Profile is a role profile. Field sets differ per role, so it stays a map.
type Profile map[string]any

// Status returns the profile status field.
func (p Profile) Status() string {
	s, _ := p["status"].(string)
	return s
}

// Businesses returns the ids of businesses a professional is linked to.
func (p Profile) Businesses() []string {
	raw, _ := p["businesses"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// LinkedTo reports whether businessID is in the profile's business set.
func (p Profile) LinkedTo(businessID string) bool {
	for _, id := range p.Businesses() {
		if id == businessID {
			return true
		}
	}
	return false
}

// MissingFields lists the required fields of role that are absent or blank.
func (p Profile) MissingFields(role string) []string {
	var missing []string
	for _, field := range RequiredFields(role) {
		v, ok := p[field]
		if !ok || v == nil {
			missing = append(missing, field)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

var requiredFields = map[string][]string{
	"client":       {"name", "phone"},
	"professional": {"name", "phone", "specialty"},
	"owner":        {"name", "phone", "cpfCnpj"},
}

// RequiredFields returns the fields a complete profile of role must carry. Unknown
// roles only need a name.
func RequiredFields(role string) []string {
	if fields, ok := requiredFields[role]; ok {
		return fields
	}
	return []string{"name"}
}

// Business is one document of the businesses collection.
type Business struct {
	ID            string   `json:"-"`
	Name          string   `json:"name"`
	LinkCode      string   `json:"linkCode"`
	Status        string   `json:"status"`
	Professionals []string `json:"professionals,omitempty"`
}

// Link is the historical record of one professional joining a business.
type Link struct {
	BusinessID     string `json:"businessId"`
	ProfessionalID string `json:"professionalId"`
	BusinessName   string `json:"businessName"`
	LinkCode       string `json:"linkCode"`
}
