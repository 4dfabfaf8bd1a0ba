package models

import (
	"fmt"
	"time"
)

// Account ties a credential bundle to its latest verified snapshot. The
// engine treats the containing repository as an external collaborator and
// only ever hands it fully-built records.
type Account struct {
	ID          string           `json:"id"`
	Label       string           `json:"label,omitempty"`
	Credentials CredentialBundle `json:"credentials"`
	Snapshot    *AccountSnapshot `json:"snapshot,omitempty"`
	NeedsReauth bool             `json:"needs_reauth,omitempty"`
	Banned      bool             `json:"banned,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Validate checks if the account record is usable.
func (a *Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("account ID is required")
	}
	return a.Credentials.Validate()
}
