package claim

import "context"

// Repository reads claim rows. Every call acquires its own connection and
// releases it before returning, whether or not the call succeeds.
type Repository interface {
	// FetchClaim reads line rows and header rows over a single connection.
	FetchClaim(ctx context.Context, id string) (*Rows, error)
	// FetchLines reads only the line rows.
	FetchLines(ctx context.Context, id string) ([]*Line, error)
}
