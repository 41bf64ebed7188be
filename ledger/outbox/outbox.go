// Package outbox persists produced ledger transactions until the
// external ledger collaborator picks them up. The journal is append-only
// from the server's point of view; settlement only stamps a record.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/braid-game/braid/ledger"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_outbox (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  kind       TEXT    NOT NULL,
  sender     TEXT    NOT NULL,
  receiver   TEXT    NOT NULL,
  amount     REAL    NOT NULL,
  data       BLOB,
  created_at INTEGER NOT NULL,
  settled_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_ledger_outbox_pending
  ON ledger_outbox (id) WHERE settled_at IS NULL;
`

// Record is one journaled transaction.
type Record struct {
	ID          int64
	Kind        string
	Transaction ledger.Transaction
	CreatedAt   time.Time
	Settled     bool
}

// Outbox is a SQLite-backed transaction journal.
type Outbox struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Outbox, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("outbox path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Outbox{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (o *Outbox) Close() error {
	if o == nil || o.sqlDB == nil {
		return nil
	}
	return o.sqlDB.Close()
}

// Append journals one transaction under the given kind and returns its
// journal id.
func (o *Outbox) Append(ctx context.Context, kind string, tx ledger.Transaction) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return 0, fmt.Errorf("transaction kind is required")
	}
	res, err := o.sqlDB.ExecContext(
		ctx,
		`INSERT INTO ledger_outbox (kind, sender, receiver, amount, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		kind, tx.Sender, tx.Receiver, tx.Amount, tx.Data, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read insert id: %w", err)
	}
	return id, nil
}

// Pending lists journaled transactions the ledger has not settled yet,
// oldest first.
func (o *Outbox) Pending(ctx context.Context) ([]Record, error) {
	rows, err := o.sqlDB.QueryContext(
		ctx,
		`SELECT id, kind, sender, receiver, amount, data, created_at
		 FROM ledger_outbox WHERE settled_at IS NULL ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			data      []byte
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Transaction.Sender,
			&rec.Transaction.Receiver, &rec.Transaction.Amount, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Transaction.Data = data
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return out, nil
}

// MarkSettled stamps a journaled transaction as settled by the ledger.
func (o *Outbox) MarkSettled(ctx context.Context, id int64) error {
	res, err := o.sqlDB.ExecContext(
		ctx,
		`UPDATE ledger_outbox SET settled_at = ? WHERE id = ? AND settled_at IS NULL`,
		time.Now().UTC().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("mark settled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %d not found or already settled", id)
	}
	return nil
}
