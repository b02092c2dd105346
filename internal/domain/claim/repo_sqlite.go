package claim

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLite has no stored procedures, so the selectclaims lookup is expressed
// as the equivalent query over ClaimLine.
const sqliteLinesQuery = `SELECT LineNumber, ModifierCode1, ModifierCode2, ModifierCode3, ModifierCode4
	FROM ClaimLine WHERE PayerClaimUniqueIdentifier = ? ORDER BY LineNumber`

const sqliteHeaderQuery = `SELECT PayerClaimUniqueIdentifier, ClaimProcessingStatusCode, PatientAccountNumber,
	ClaimReceivedDateMedical, ClaimTotalSubmittedAmount
	FROM Claim WHERE PayerClaimUniqueIdentifier = ?`

// SQLiteSchema creates the claim tables used by the local SQLite store.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS Claim (
	PayerClaimUniqueIdentifier TEXT PRIMARY KEY,
	ClaimProcessingStatusCode  TEXT,
	PatientAccountNumber       TEXT,
	ClaimReceivedDateMedical   TIMESTAMP,
	ClaimTotalSubmittedAmount  REAL
);
CREATE TABLE IF NOT EXISTS ClaimLine (
	PayerClaimUniqueIdentifier TEXT NOT NULL,
	LineNumber                 INTEGER NOT NULL,
	ModifierCode1              TEXT,
	ModifierCode2              TEXT,
	ModifierCode3              TEXT,
	ModifierCode4              TEXT,
	PRIMARY KEY (PayerClaimUniqueIdentifier, LineNumber)
);`

type claimRepoSQLite struct{ db *sql.DB }

func NewClaimRepoSQLite(db *sql.DB) Repository { return &claimRepoSQLite{db: db} }

// EnsureSQLiteSchema creates the claim tables if they are missing.
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}
	return nil
}

func (r *claimRepoSQLite) FetchClaim(ctx context.Context, id string) (*Rows, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, dataSourceError("acquire connection for", id, err)
	}
	defer conn.Close()

	lines, err := sqliteLines(ctx, conn, id)
	if err != nil {
		return nil, err
	}
	headers, err := sqliteHeaders(ctx, conn, id)
	if err != nil {
		return nil, err
	}
	return &Rows{ID: id, Lines: lines, Headers: headers}, nil
}

func (r *claimRepoSQLite) FetchLines(ctx context.Context, id string) ([]*Line, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, dataSourceError("acquire connection for", id, err)
	}
	defer conn.Close()
	return sqliteLines(ctx, conn, id)
}

func sqliteLines(ctx context.Context, conn *sql.Conn, id string) ([]*Line, error) {
	rows, err := conn.QueryContext(ctx, sqliteLinesQuery, id)
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

func sqliteHeaders(ctx context.Context, conn *sql.Conn, id string) ([]*Header, error) {
	rows, err := conn.QueryContext(ctx, sqliteHeaderQuery, id)
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
