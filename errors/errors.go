// Package errors provides the error taxonomy shared across the vault.
package errors

import (
	"errors"
	"fmt"
)

// InvalidStateError is returned when an OAuth state token is missing,
// expired, already used or superseded by a newer one.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.Reason == "" {
		return "invalid state"
	}
	return fmt.Sprintf("invalid state: %s", e.Reason)
}

// InvalidRequestError is returned when a connection is added without a prior
// connection request.
type InvalidRequestError struct {
	UserID string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("no pending connection request for user %s", e.UserID)
}

// InvalidUserError is returned when a state or request references a user that
// does not exist or cannot hold secrets.
type InvalidUserError struct {
	UserID string
	Reason string
}

func (e *InvalidUserError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid user %s", e.UserID)
	}
	return fmt.Sprintf("invalid user %s: %s", e.UserID, e.Reason)
}

type KeyErrorKind int

const (
	KeyErrorOther KeyErrorKind = iota
	KeyErrorNotFound
	KeyErrorPermissionDenied
)

func (k KeyErrorKind) String() string {
	switch k {
	case KeyErrorNotFound:
		return "not found"
	case KeyErrorPermissionDenied:
		return "permission denied"
	}
	return "other"
}

// KeyManagementError wraps a failure of the key management service.
type KeyManagementError struct {
	Op   string
	Key  string
	Kind KeyErrorKind
	Err  error
}

func (e *KeyManagementError) Error() string {
	return fmt.Sprintf("kms %s %s (%s): %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *KeyManagementError) Unwrap() error {
	return e.Err
}

// EncodingError is returned when stored ciphertext or a stored payload
// cannot be decoded.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("malformed stored value: %v", e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

func IsInvalidRequest(err error) bool {
	var e *InvalidRequestError
	return errors.As(err, &e)
}

func IsInvalidUser(err error) bool {
	var e *InvalidUserError
	return errors.As(err, &e)
}

func IsKeyManagement(err error) bool {
	var e *KeyManagementError
	return errors.As(err, &e)
}

func IsEncoding(err error) bool {
	var e *EncodingError
	return errors.As(err, &e)
}
