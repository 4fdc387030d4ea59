package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

const defaultRecordsTable = "pebble_records"

// Postgres stores records as jsonb rows in a single table keyed by (kind, key).
type Postgres struct {
	db     *runtime.DB
	table  string
	lockID int64 // advisory lock held while creating the table
}

// NewPostgres creates a backend on db. Call Initialize before use.
func NewPostgres(db *runtime.DB) *Postgres {
	return &Postgres{
		db:     db,
		table:  defaultRecordsTable,
		lockID: 7251010,
	}
}

// WithTable sets a custom table name.
func (p *Postgres) WithTable(name string) *Postgres {
	p.table = pgx.Identifier{name}.Sanitize()
	return p
}

// Initialize creates the records table if it doesn't exist. Concurrent callers
// are serialized with an advisory lock.
func (p *Postgres) Initialize(ctx context.Context) error {
	return p.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", p.lockID); err != nil {
			return fmt.Errorf("failed to acquire initialize lock: %w", err)
		}
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				kind TEXT NOT NULL,
				key TEXT NOT NULL,
				seq BIGINT NOT NULL,
				version BIGINT NOT NULL,
				fields JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (kind, key)
			);

			CREATE INDEX IF NOT EXISTS idx_%[2]s_kind_seq ON %[1]s(kind, seq);
		`, p.table, sanitizeIndexName(p.table))
		if _, err := tx.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to create %s table: %w", p.table, err)
		}
		return nil
	})
}

func (p *Postgres) Load(ctx context.Context, kind string, key store.Key) (store.Record, error) {
	query := fmt.Sprintf(`SELECT seq, version, fields FROM %s WHERE kind = $1 AND key = $2`, p.table)

	rec := store.Record{Kind: kind, Key: key}
	var raw []byte
	err := p.db.QueryRow(ctx, query, kind, string(key)).Scan(&rec.Seq, &rec.Version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, &runtime.NotFoundError{Kind: kind, Key: string(key)}
	}
	if err != nil {
		return store.Record{}, storageError("load", kind, err)
	}
	if rec.Fields, err = decodeFields(raw); err != nil {
		return store.Record{}, storageError("load", kind, err)
	}
	return rec, nil
}

func (p *Postgres) Save(ctx context.Context, kind string, rec store.Record) error {
	return storageError("save", kind, p.save(ctx, p.db.Pool(), kind, rec))
}

func (p *Postgres) Erase(ctx context.Context, kind string, key store.Key) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE kind = $1 AND key = $2`, p.table)
	_, err := p.db.Exec(ctx, query, kind, string(key))
	return storageError("erase", kind, err)
}

func (p *Postgres) List(ctx context.Context, kind string) ([]store.Record, error) {
	query := fmt.Sprintf(`SELECT key, seq, version, fields FROM %s WHERE kind = $1 ORDER BY seq ASC`, p.table)

	rows, err := p.db.Query(ctx, query, kind)
	if err != nil {
		return nil, storageError("list", kind, err)
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		rec := store.Record{Kind: kind}
		var key string
		var raw []byte
		if err := rows.Scan(&key, &rec.Seq, &rec.Version, &raw); err != nil {
			return nil, storageError("list", kind, fmt.Errorf("failed to scan record: %w", err))
		}
		rec.Key = store.Key(key)
		if rec.Fields, err = decodeFields(raw); err != nil {
			return nil, storageError("list", kind, err)
		}
		records = append(records, rec)
	}
	return records, storageError("list", kind, rows.Err())
}

// Apply commits all changes in one transaction.
func (p *Postgres) Apply(ctx context.Context, changes []store.Change) error {
	err := p.db.InTx(ctx, func(tx pgx.Tx) error {
		for _, ch := range changes {
			switch ch.Action {
			case store.ActionInsert, store.ActionUpdate:
				if err := p.save(ctx, tx, ch.Kind, *ch.After); err != nil {
					return err
				}
			case store.ActionDelete:
				query := fmt.Sprintf(`DELETE FROM %s WHERE kind = $1 AND key = $2`, p.table)
				if _, err := tx.Exec(ctx, query, ch.Kind, string(ch.Key)); err != nil {
					return fmt.Errorf("failed to erase %s %s: %w", ch.Kind, ch.Key, err)
				}
			}
		}
		return nil
	})
	return storageError("apply", "", err)
}

// pgxExecer is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (p *Postgres) save(ctx context.Context, conn pgxExecer, kind string, rec store.Record) error {
	raw, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, rec.Key, err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (kind, key, seq, version, fields)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, key) DO UPDATE
		SET seq = EXCLUDED.seq, version = EXCLUDED.version, fields = EXCLUDED.fields, updated_at = NOW()
	`, p.table)
	if _, err := conn.Exec(ctx, query, kind, string(rec.Key), rec.Seq, rec.Version, raw); err != nil {
		return fmt.Errorf("failed to save %s %s: %w", kind, rec.Key, err)
	}
	return nil
}

// decodeFields decodes jsonb keeping integers exact.
func decodeFields(raw []byte) (store.Fields, error) {
	var fields store.Fields
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return fields, nil
}

func sanitizeIndexName(table string) string {
	out := make([]rune, 0, len(table))
	for _, r := range table {
		if r == '"' || r == '.' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
