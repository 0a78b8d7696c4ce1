// Package accounts stores the Google accounts connected by a user. A user
// may connect several accounts, at most one of which is the default.
package accounts

import (
	"sort"
	"time"
)

// GoogleAccount is a connected Google account. EncryptedToken holds the
// sealed OAuth token payload.
type GoogleAccount struct {
	Email          string    `json:"email"`
	Name           string    `json:"name,omitempty"`
	Picture        string    `json:"picture,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	EncryptedToken string    `json:"encryptedToken"`
	IsDefault      bool      `json:"isDefault"`
}

// GoogleDocument holds every Google account of a user, keyed by email.
type GoogleDocument struct {
	UserID      string                    `json:"userId"`
	RedirectURI string                    `json:"redirectUri,omitempty"`
	CreatedAt   time.Time                 `json:"createdAt"`
	Accounts    map[string]*GoogleAccount `json:"accounts"`
}

// AccountInfo describes the account an OAuth token belongs to.
type AccountInfo struct {
	Email   string
	Name    string
	Picture string
}

// Default returns the default account or nil.
func (d *GoogleDocument) Default() *GoogleAccount {
	for _, a := range d.Accounts {
		if a.IsDefault {
			return a
		}
	}
	return nil
}

// Emails returns the account emails in lexicographic order.
func (d *GoogleDocument) Emails() []string {
	emails := make([]string, 0, len(d.Accounts))
	for e := range d.Accounts {
		emails = append(emails, e)
	}
	sort.Strings(emails)
	return emails
}

// electDefault makes the oldest account the default, breaking ties by email.
func (d *GoogleDocument) electDefault() *GoogleAccount {
	var elected *GoogleAccount
	for _, e := range d.Emails() {
		a := d.Accounts[e]
		if elected == nil || a.CreatedAt.Before(elected.CreatedAt) {
			elected = a
		}
	}
	if elected != nil {
		elected.IsDefault = true
	}
	return elected
}
