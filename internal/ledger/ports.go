package ledger

import (
	"context"

	"finman/internal/core"
)

// Ports for ledger persistence adapters.
type (
	// Store maps one user's ordered record list to and from the shared
	// multi-user ledger document.
	Store interface {
		// LoadUser returns the user's records in insertion order. A user
		// without an entry, or a document that does not exist yet, yields an
		// empty list and no error.
		LoadUser(ctx context.Context, userID string) ([]core.Record, error)

		// SaveUser replaces the user's entry and rewrites the document,
		// leaving every other user's entry untouched.
		SaveUser(ctx context.Context, userID string, records []core.Record) error

		// Close releases the underlying resources.
		Close() error
	}

	// UserLister enumerates the users present in a ledger document.
	UserLister interface {
		Users(ctx context.Context) ([]string, error)
	}
)
