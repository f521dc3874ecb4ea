package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/rezonia/fiscal-sync/internal/model"
)

// DefaultTable holds the ledger rows
const DefaultTable = "batch_records"

// PostgresStore keeps ledger rows in PostgreSQL with the invoice as JSONB
type PostgresStore struct {
	db    *sql.DB
	table string
}

// OpenPostgres opens a connection pool for dsn
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore creates a store over db using table, creating it if needed
func NewPostgresStore(ctx context.Context, db *sql.DB, table string) (*PostgresStore, error) {
	if table == "" {
		table = DefaultTable
	}
	s := &PostgresStore{db: db, table: pq.QuoteIdentifier(table)}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id             BIGSERIAL PRIMARY KEY,
		batch_id       TEXT NOT NULL,
		tenant         TEXT NOT NULL,
		request_status TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT '',
		start_date     TEXT NOT NULL,
		end_date       TEXT NOT NULL,
		document_id    TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL,
		invoice        JSONB,
		UNIQUE (batch_id, request_status, document_id)
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

func (s *PostgresStore) insertQuery() string {
	return fmt.Sprintf(`
	INSERT INTO %s
	(batch_id, tenant, request_status, status, start_date, end_date, document_id, created_at, invoice)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (batch_id, request_status, document_id) DO NOTHING`, s.table)
}

func insertArgs(r Record) ([]interface{}, error) {
	// JSONB takes text; a []byte would be sent as bytea
	var invoice interface{}
	if r.Invoice != nil {
		b, err := json.Marshal(r.Invoice)
		if err != nil {
			return nil, err
		}
		invoice = string(b)
	}
	return []interface{}{
		r.BatchID, r.Tenant, string(r.RequestStatus), string(r.Status),
		r.StartDate, r.EndDate, r.DocumentID, r.CreatedAt, invoice,
	}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, r Record) error {
	args, err := insertArgs(r)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.insertQuery(), args...); err != nil {
		return fmt.Errorf("failed to insert ledger record: %w", err)
	}
	return nil
}

// InsertMany writes all rows in one transaction
func (s *PostgresStore) InsertMany(ctx context.Context, rs []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.insertQuery())
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rs {
		args, err := insertArgs(r)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert ledger record %s: %w", r.DocumentID, err)
		}
	}
	return tx.Commit()
}

// whereClause renders a filter as a WHERE clause starting at placeholder $start
func whereClause(f Filter, start int) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, start+len(args)-1))
	}
	add("batch_id", f.BatchID)
	add("tenant", f.Tenant)
	add("request_status", string(f.RequestStatus))
	add("status", string(f.Status))
	add("document_id", f.DocumentID)

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStore) Find(ctx context.Context, f Filter) ([]Record, error) {
	where, args := whereClause(f, 1)
	query := fmt.Sprintf(`SELECT batch_id, tenant, request_status, status, start_date, end_date, document_id, created_at, invoice
	FROM %s%s ORDER BY created_at, id`, s.table, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                     Record
			requestStatus, status string
			invoice               []byte
		)
		if err := rows.Scan(&r.BatchID, &r.Tenant, &requestStatus, &status, &r.StartDate, &r.EndDate, &r.DocumentID, &r.CreatedAt, &invoice); err != nil {
			return nil, err
		}
		r.RequestStatus = model.BatchStatus(requestStatus)
		r.Status = model.DeliveryStatus(status)
		if len(invoice) > 0 {
			r.Invoice = &model.InvoiceRecord{}
			if err := json.Unmarshal(invoice, r.Invoice); err != nil {
				return nil, fmt.Errorf("failed to decode invoice for %s: %w", r.DocumentID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, f Filter) (int64, error) {
	where, args := whereClause(f, 1)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", s.table, where), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete ledger records: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := whereClause(f, 1)
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", s.table, where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger records: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, f Filter, status model.DeliveryStatus) (int64, error) {
	where, args := whereClause(f, 2)
	query := fmt.Sprintf("UPDATE %s SET status = $1%s", s.table, where)
	res, err := s.db.ExecContext(ctx, query, append([]interface{}{string(status)}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to update ledger records: %w", err)
	}
	return res.RowsAffected()
}
