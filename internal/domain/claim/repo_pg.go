package claim

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type claimRepoPG struct{ pool *pgxpool.Pool }

func NewClaimRepoPG(pool *pgxpool.Pool) Repository { return &claimRepoPG{pool: pool} }

// selectclaims is a set-returning function owned by the claims database.
const pgLinesQuery = `SELECT "LineNumber", "ModifierCode1", "ModifierCode2", "ModifierCode3", "ModifierCode4"
	FROM selectclaims($1)`

const pgHeaderQuery = `SELECT "PayerClaimUniqueIdentifier", "ClaimProcessingStatusCode", "PatientAccountNumber",
	"ClaimReceivedDateMedical", "ClaimTotalSubmittedAmount"
	FROM "Claim" WHERE "PayerClaimUniqueIdentifier" = $1`

func (r *claimRepoPG) FetchClaim(ctx context.Context, id string) (*Rows, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, dataSourceError("acquire connection for", id, err)
	}
	defer conn.Release()

	lines, err := pgLines(ctx, conn, id)
	if err != nil {
		return nil, err
	}
	headers, err := pgHeaders(ctx, conn, id)
	if err != nil {
		return nil, err
	}
	return &Rows{ID: id, Lines: lines, Headers: headers}, nil
}

func (r *claimRepoPG) FetchLines(ctx context.Context, id string) ([]*Line, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, dataSourceError("acquire connection for", id, err)
	}
	defer conn.Release()
	return pgLines(ctx, conn, id)
}

func pgLines(ctx context.Context, q queryable, id string) ([]*Line, error) {
	rows, err := q.Query(ctx, pgLinesQuery, id)
	if err != nil {
		return nil, dataSourceError("select lines for", id, err)
	}
	defer rows.Close()
	var lines []*Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.LineNumber, &l.ModifierCode1, &l.ModifierCode2, &l.ModifierCode3, &l.ModifierCode4); err != nil {
			return nil, dataSourceError("scan line for", id, err)
		}
		lines = append(lines, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, dataSourceError("iterate lines for", id, err)
	}
	return lines, nil
}

func pgHeaders(ctx context.Context, q queryable, id string) ([]*Header, error) {
	rows, err := q.Query(ctx, pgHeaderQuery, id)
	if err != nil {
		return nil, dataSourceError("select header for", id, err)
	}
	defer rows.Close()
	var headers []*Header
	for rows.Next() {
		var h Header
		if err := rows.Scan(&h.PayerClaimUniqueIdentifier, &h.ClaimProcessingStatusCode, &h.PatientAccountNumber,
			&h.ClaimReceivedDateMedical, &h.ClaimTotalSubmittedAmount); err != nil {
			return nil, dataSourceError("scan header for", id, err)
		}
		headers = append(headers, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, dataSourceError("iterate header for", id, err)
	}
	return headers, nil
}
