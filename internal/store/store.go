// Package store defines the boundary to the account repository. The
// credential engine produces and refreshes bundles but never owns their
// persistence; everything it needs from the repository is captured here.
package store

import "github.com/leonaii/kirocloud/internal/models"

// Store is the account repository boundary.
type Store interface {
	GetAccount(id string) (*models.Account, bool)
	SetAccount(acc *models.Account)
	DeleteAccount(id string) bool
	ListAccounts() []*models.Account

	// MachineID returns the stable installation identifier, creating it
	// on first use.
	MachineID() (string, error)
}
