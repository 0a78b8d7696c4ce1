// Package connections stores the financial institutions a user linked
// through Plaid.
package connections

import "time"

type SubAccount struct {
	Name string `json:"name"`
	Mask string `json:"mask"`
}

// Entry is one linked institution. Both secrets are sealed.
type Entry struct {
	ID                 string       `json:"id"`
	BankName           string       `json:"bankName"`
	EncryptedAuthToken string       `json:"encryptedAuthToken"`
	EncryptedItemID    string       `json:"encryptedItemId"`
	SubAccounts        []SubAccount `json:"subAccounts"`
	Valid              bool         `json:"valid"`
}

// Document holds the linked institutions of a user in link order.
type Document struct {
	UserID      string    `json:"userId"`
	RedirectURI string    `json:"redirectUri,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Tokens      []Entry   `json:"tokens"`
}

// Request is a pending link started by the user.
type Request struct {
	UserID      string    `json:"userId"`
	RedirectURI string    `json:"redirectUri"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summary describes a linked institution without its secrets.
type Summary struct {
	ID          string       `json:"id"`
	BankName    string       `json:"bankName"`
	SubAccounts []SubAccount `json:"subAccounts"`
}

// Credentials is a linked institution with its secrets opened.
type Credentials struct {
	ID          string       `json:"id"`
	BankName    string       `json:"bankName"`
	AuthToken   string       `json:"authToken"`
	ItemID      string       `json:"itemId"`
	SubAccounts []SubAccount `json:"subAccounts"`
}

func (d *Document) valid() []Entry {
	out := make([]Entry, 0, len(d.Tokens))
	for _, e := range d.Tokens {
		if e.Valid {
			out = append(out, e)
		}
	}
	return out
}
