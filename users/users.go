// Package users is the user directory consulted by the vault.
package users

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("user not found")

// Service identifies an external service a user can connect to.
type Service int

const (
	Google Service = iota
	Plaid
)

func (s Service) String() string {
	switch s {
	case Google:
		return "google"
	case Plaid:
		return "plaid"
	}
	return fmt.Sprintf("service(%d)", int(s))
}

func ParseService(s string) (Service, error) {
	switch s {
	case "google":
		return Google, nil
	case "plaid":
		return Plaid, nil
	}
	return 0, fmt.Errorf("unknown service %q", s)
}

// User is a vault user record.
type User struct {
	ID                string    `json:"id" gorm:"column:id;primaryKey;size:128"`
	Email             string    `json:"email" gorm:"column:email;index"`
	IsRegistered      bool      `json:"isRegistered" gorm:"column:is_registered;default:false"`
	KMSKeyID          string    `json:"-" gorm:"column:kms_key_id"`
	ConnectedToGoogle bool      `json:"connectedToGoogle" gorm:"column:connected_to_google;default:false"`
	ConnectedToPlaid  bool      `json:"connectedToPlaid" gorm:"column:connected_to_plaid;default:false"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsConnected(s Service) bool {
	switch s {
	case Google:
		return u.ConnectedToGoogle
	case Plaid:
		return u.ConnectedToPlaid
	}
	return false
}

func connectedColumn(s Service) (string, error) {
	switch s {
	case Google:
		return "connected_to_google", nil
	case Plaid:
		return "connected_to_plaid", nil
	}
	return "", fmt.Errorf("unknown service %s", s)
}
