// Package domain contains core domain types for the command console.
package domain

import (
	"strings"
	"time"
)

// Account status values.
const (
	AccountActive    = "active"
	AccountSuspended = "suspended"
	AccountDeleted   = "deleted"
)

// User types.
const (
	UserTypeStandard = "standard"
	UserTypePremium  = "premium"
	UserTypeAdmin    = "admin"
)

// Identity is a verified caller as reported by the identity verifier.
type Identity struct {
	Subject       string         `json:"sub"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified,omitempty"`
	Username      string         `json:"username,omitempty"`
	GivenName     string         `json:"given_name,omitempty"`
	FamilyName    string         `json:"family_name,omitempty"`
	PhoneNumber   string         `json:"phone_number,omitempty"`
	PhoneVerified bool           `json:"phone_number_verified,omitempty"`
	Claims        map[string]any `json:"claims,omitempty"`
}

// DisplayName returns the username to use for a new account.
// Falls back to the local part of the email, then to the subject.
func (i *Identity) DisplayName() string {
	if i.Username != "" {
		return i.Username
	}
	if local, _, ok := strings.Cut(i.Email, "@"); ok && local != "" {
		return local
	}
	return i.Subject
}

// User represents a persisted account bound to an external identity subject.
type User struct {
	ID            string         `json:"id"`
	Subject       string         `json:"-"`
	Username      string         `json:"username"`
	Email         string         `json:"email"`
	FirstName     string         `json:"firstName,omitempty"`
	LastName      string         `json:"lastName,omitempty"`
	PhoneNumber   string         `json:"phoneNumber,omitempty"`
	EmailVerified bool           `json:"emailVerified"`
	PhoneVerified bool           `json:"phoneVerified"`
	Active        bool           `json:"active"`
	AccountStatus string         `json:"accountStatus"`
	UserType      string         `json:"userType"`
	LastLogin     time.Time      `json:"lastLogin"`
	LoginCount    int            `json:"loginCount"`
	Timezone      string         `json:"timezone"`
	Locale        string         `json:"locale"`
	AvatarURL     string         `json:"avatarUrl,omitempty"`
	Bio           string         `json:"bio,omitempty"`
	Website       string         `json:"website,omitempty"`
	Location      string         `json:"location,omitempty"`
	Company       string         `json:"company,omitempty"`
	JobTitle      string         `json:"jobTitle,omitempty"`
	Attributes    map[string]any `json:"-"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// ProfileUpdate carries the application-owned profile fields a user may change.
// Nil fields are left untouched.
type ProfileUpdate struct {
	Username  *string `json:"username,omitempty"`
	Bio       *string `json:"bio,omitempty"`
	Website   *string `json:"website,omitempty"`
	Location  *string `json:"location,omitempty"`
	Company   *string `json:"company,omitempty"`
	JobTitle  *string `json:"jobTitle,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	Timezone  *string `json:"timezone,omitempty"`
	Locale    *string `json:"locale,omitempty"`
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.Username == nil && p.Bio == nil && p.Website == nil &&
		p.Location == nil && p.Company == nil && p.JobTitle == nil &&
		p.AvatarURL == nil && p.Timezone == nil && p.Locale == nil
}
