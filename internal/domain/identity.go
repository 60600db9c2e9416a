// Package domain contains entities without transport or lifecycle logic.
package domain

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 36
	MaxDisplayNameLen   = 36
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

// ParticipantID is stable within a session and assigned by the session layer.
type ParticipantID string

type Identity struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"display_name"`
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(displayName string) (*Identity, error) {
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	return &Identity{ID: ParticipantID(uuid.NewString()), DisplayName: displayName}, nil
}

func (i *Identity) SetDisplayName(name string) error {
	if err := ValidateDisplayName(name); err != nil {
		return err
	}
	i.DisplayName = name
	return nil
}
