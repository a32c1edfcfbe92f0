package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for user-correctable input problems (empty text, unknown voice).
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInsufficientCredit is returned when the balance cannot cover a spend.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrAlreadyRedeemed is returned when the account has already used a special key.
	ErrAlreadyRedeemed = errors.New("special key already redeemed")
	// ErrInvalidKey is returned for a special key that is not recognized.
	ErrInvalidKey = errors.New("invalid special key")
	// ErrSynthesisFailed is returned when the speech engine could not produce audio.
	ErrSynthesisFailed = errors.New("synthesis failed")
	// ErrStorage is returned when the artifact could not be written to disk.
	ErrStorage = errors.New("artifact storage error")

	ErrAccountNotFound    = errors.New("account not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrArtifactNotFound   = errors.New("artifact not found")
	ErrArtifactForbidden  = errors.New("artifact belongs to another account")
)

// AlreadyRedeemedError carries the key an account redeemed earlier.
type AlreadyRedeemedError struct {
	Key string
}

func (e *AlreadyRedeemedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAlreadyRedeemed, e.Key)
}

func (e *AlreadyRedeemedError) Unwrap() error {
	return ErrAlreadyRedeemed
}
