package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"possync/internal/domain/sync"
)

const checkpointKey = "last_sync_timestamp"

// ErrNotCached сущность отсутствует в локальном кэше
var ErrNotCached = errors.New("entity is not cached")

// OutboxState состояние изменения в локальном outbox.
type OutboxState string

const (
	OutboxPending  OutboxState = "pending"
	OutboxSent     OutboxState = "sent"
	OutboxRejected OutboxState = "rejected"
)

// OutboxChange изменение, записанное устройством офлайн.
type OutboxChange struct {
	ID              uuid.UUID
	EntityType      sync.EntityType
	EntityID        string
	Action          sync.Action
	Data            json.RawMessage
	ClientTimestamp time.Time
	Priority        *int
	BaseRevision    *int64
	State           OutboxState
	Outcome         sync.Outcome
	ItemID          *uuid.UUID
	Error           string
	CreatedAt       time.Time
	SentAt          *time.Time
}

// Change изменение в формате запроса push.
func (c *OutboxChange) Change() sync.Change {
	ts := c.ClientTimestamp
	return sync.Change{
		EntityType:      string(c.EntityType),
		EntityID:        c.EntityID,
		Action:          string(c.Action),
		Data:            c.Data,
		ClientTimestamp: &ts,
		Priority:        c.Priority,
		BaseRevision:    c.BaseRevision,
	}
}

// CachedEntity серверная версия сущности, полученная через pull.
type CachedEntity struct {
	EntityType sync.EntityType
	EntityID   string
	Data       json.RawMessage
	Revision   int64
	Deleted    bool
	UpdatedAt  time.Time
}

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	storage := &SQLiteStorage{db: db}

	if err := storage.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS outbox (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			action TEXT NOT NULL,
			data TEXT,
			client_timestamp TEXT NOT NULL,
			priority INTEGER,
			base_revision INTEGER,
			state TEXT NOT NULL DEFAULT 'pending',
			outcome TEXT NOT NULL DEFAULT '',
			item_id TEXT,
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			sent_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_outbox_state ON outbox(state, created_at);

		CREATE TABLE IF NOT EXISTS entities (
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			data TEXT,
			revision INTEGER NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (entity_type, entity_id)
		);

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)

	return err
}

// AddChange кладет изменение в outbox.
func (s *SQLiteStorage) AddChange(ctx context.Context, c *OutboxChange) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.State == "" {
		c.State = OutboxPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox (id, entity_type, entity_id, action, data, client_timestamp,
		                    priority, base_revision, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID.String(), c.EntityType, c.EntityID, c.Action, nullString(c.Data),
		formatTime(c.ClientTimestamp), c.Priority, c.BaseRevision, c.State, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert outbox change: %w", err)
	}

	return nil
}

// PendingChanges неотправленные изменения в порядке записи.
func (s *SQLiteStorage) PendingChanges(ctx context.Context, limit int) ([]*OutboxChange, error) {
	return s.listOutbox(ctx, OutboxPending, limit)
}

// ListOutbox изменения outbox; пустой state означает все.
func (s *SQLiteStorage) ListOutbox(ctx context.Context, state OutboxState, limit int) ([]*OutboxChange, error) {
	return s.listOutbox(ctx, state, limit)
}

func (s *SQLiteStorage) listOutbox(ctx context.Context, state OutboxState, limit int) ([]*OutboxChange, error) {
	query := `SELECT id, entity_type, entity_id, action, data, client_timestamp, priority,
	                 base_revision, state, outcome, item_id, error, created_at, sent_at
	          FROM outbox WHERE 1=1`
	args := []interface{}{}

	if state != "" {
		query += " AND state = ?"
		args = append(args, state)
	}

	query += " ORDER BY created_at, rowid"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var changes []*OutboxChange
	for rows.Next() {
		c, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}

	return changes, rows.Err()
}

func scanOutbox(rows *sql.Rows) (*OutboxChange, error) {
	var (
		c                               OutboxChange
		id, clientTS, createdAt         string
		data, itemID, sentAt            sql.NullString
		priority                        sql.NullInt64
		baseRevision                    sql.NullInt64
		entityType, action, state, outc string
	)

	if err := rows.Scan(&id, &entityType, &c.EntityID, &action, &data, &clientTS, &priority,
		&baseRevision, &state, &outc, &itemID, &c.Error, &createdAt, &sentAt); err != nil {
		return nil, fmt.Errorf("scan outbox change: %w", err)
	}

	var err error
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse outbox id: %w", err)
	}
	c.EntityType = sync.EntityType(entityType)
	c.Action = sync.Action(action)
	c.State = OutboxState(state)
	c.Outcome = sync.Outcome(outc)
	if data.Valid {
		c.Data = json.RawMessage(data.String)
	}
	if priority.Valid {
		p := int(priority.Int64)
		c.Priority = &p
	}
	if baseRevision.Valid {
		c.BaseRevision = &baseRevision.Int64
	}
	if itemID.Valid {
		parsed, err := uuid.Parse(itemID.String)
		if err != nil {
			return nil, fmt.Errorf("parse item id: %w", err)
		}
		c.ItemID = &parsed
	}
	if c.ClientTimestamp, err = parseTime(clientTS); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sentAt.Valid {
		t, err := parseTime(sentAt.String)
		if err != nil {
			return nil, err
		}
		c.SentAt = &t
	}

	return &c, nil
}

// MarkSent сохраняет результат push для изменения.
func (s *SQLiteStorage) MarkSent(ctx context.Context, id uuid.UUID, res sync.ChangeResult, at time.Time) error {
	state := OutboxSent
	if res.Outcome == sync.OutcomeRejected {
		state = OutboxRejected
	}

	var itemID *string
	if res.ItemID != nil {
		v := res.ItemID.String()
		itemID = &v
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET state = ?, outcome = ?, item_id = ?, error = ?, sent_at = ?
		WHERE id = ?
	`, state, res.Outcome, itemID, resultError(res), formatTime(at), id.String())
	if err != nil {
		return fmt.Errorf("update outbox change: %w", err)
	}

	return nil
}

// CountOutbox количество изменений outbox по состояниям.
func (s *SQLiteStorage) CountOutbox(ctx context.Context) (map[OutboxState]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT state, COUNT(*) FROM outbox GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("count outbox: %w", err)
	}
	defer rows.Close()

	counts := make(map[OutboxState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan outbox count: %w", err)
		}
		counts[OutboxState(state)] = n
	}

	return counts, rows.Err()
}

// SaveEntities применяет страницу pull к локальному кэшу.
func (s *SQLiteStorage) SaveEntities(ctx context.Context, entities []sync.PulledEntity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (entity_type, entity_id, data, revision, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id) DO UPDATE
		SET data = excluded.data, revision = excluded.revision,
		    deleted = excluded.deleted, updated_at = excluded.updated_at
		WHERE excluded.revision >= entities.revision
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entities {
		if _, err := stmt.ExecContext(ctx, e.EntityType, e.EntityID, nullString(e.Data),
			e.Revision, e.Deleted, formatTime(e.UpdatedAt)); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", e.EntityType, e.EntityID, err)
		}
	}

	return tx.Commit()
}

// GetEntity сущность из локального кэша.
func (s *SQLiteStorage) GetEntity(ctx context.Context, entityType sync.EntityType, entityID string) (*CachedEntity, error) {
	var (
		e         CachedEntity
		data      sql.NullString
		updatedAt string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT data, revision, deleted, updated_at
		FROM entities
		WHERE entity_type = ? AND entity_id = ?
	`, entityType, entityID).Scan(&data, &e.Revision, &e.Deleted, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}

	e.EntityType = entityType
	e.EntityID = entityID
	if data.Valid {
		e.Data = json.RawMessage(data.String)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &e, nil
}

// CountEntities количество не удаленных сущностей в кэше.
func (s *SQLiteStorage) CountEntities(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities WHERE deleted = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}

	return count, nil
}

// Checkpoint контрольная точка последнего pull; nil если pull еще не выполнялся.
func (s *SQLiteStorage) Checkpoint(ctx context.Context) (*time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", checkpointKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	t, err := parseTime(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStorage) SetCheckpoint(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, checkpointKey, formatTime(t))
	if err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullString(data json.RawMessage) *string {
	if len(data) == 0 {
		return nil
	}
	s := string(data)
	return &s
}

func resultError(res sync.ChangeResult) string {
	msgs := make([]string, 0, len(res.Errors)+1)
	for _, fe := range res.Errors {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	if res.Warning != "" {
		msgs = append(msgs, res.Warning)
	}
	return strings.Join(msgs, "; ")
}
