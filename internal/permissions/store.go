package permissions

import "context"

// Store persists permission records.
//
// Resolve must run as one atomic operation: return the record linked to
// userID; otherwise link the oldest unlinked record named userName;
// otherwise insert a default record. Concurrent calls for one userID
// must converge on a single record.
type Store interface {
	Resolve(ctx context.Context, userID, userName, newID string) (Record, Outcome, error)

	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	UserNameTaken(ctx context.Context, userName string) (bool, error)
	Create(ctx context.Context, rec Record) (Record, error)
	UpdateFlags(ctx context.Context, id string, flags Flags) (Record, error)
	Delete(ctx context.Context, id string) error
}
