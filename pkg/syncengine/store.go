package syncengine

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists the operation queue so queued work survives a restart.
type Store interface {
	SaveOperation(op *Operation) error
	UpdateOperation(op *Operation) error
	DeleteOperation(id string) error
	PendingOperations() ([]*Operation, error)
	Close() error
}

// SQLiteStore is the production queue store.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS sync_operations (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	data       TEXT NOT NULL,
	status     TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_operations_status ON sync_operations(status);
`

// OpenSQLiteStore opens (creating if needed) the queue database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sync db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sync schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveOperation(op *Operation) error {
	data, err := json.Marshal(op.Data)
	if err != nil {
		return fmt.Errorf("marshal operation %s: %w", op.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sync_operations (id, type, entity_id, data, status, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, string(op.Type), op.EntityID, string(data), string(op.Status), op.Attempts, op.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save operation %s: %w", op.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateOperation(op *Operation) error {
	data, err := json.Marshal(op.Data)
	if err != nil {
		return fmt.Errorf("marshal operation %s: %w", op.ID, err)
	}
	_, err = s.db.Exec(
		`UPDATE sync_operations SET type = ?, data = ?, status = ?, attempts = ? WHERE id = ?`,
		string(op.Type), string(data), string(op.Status), op.Attempts, op.ID,
	)
	if err != nil {
		return fmt.Errorf("update operation %s: %w", op.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteOperation(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sync_operations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete operation %s: %w", id, err)
	}
	return nil
}

// PendingOperations returns every not-yet-synced operation in enqueue order.
func (s *SQLiteStore) PendingOperations() ([]*Operation, error) {
	rows, err := s.db.Query(
		`SELECT id, type, entity_id, data, status, attempts, created_at
		 FROM sync_operations WHERE status IN (?, ?) ORDER BY created_at, id`,
		string(StatusPending), string(StatusConflicted),
	)
	if err != nil {
		return nil, fmt.Errorf("query pending operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var (
			op        Operation
			opType    string
			status    string
			raw       string
			createdAt int64
		)
		if err := rows.Scan(&op.ID, &opType, &op.EntityID, &raw, &status, &op.Attempts, &createdAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &op.Data); err != nil {
			return nil, fmt.Errorf("decode operation %s: %w", op.ID, err)
		}
		op.Type = OpType(opType)
		op.Status = OpStatus(status)
		op.CreatedAt = time.UnixMilli(createdAt)
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
