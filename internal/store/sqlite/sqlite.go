package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/store"
)

// Open opens (or creates) a SQLite database at the given path with WAL mode
// enabled. Pass ":memory:" for an in-memory database (tests, local dev).
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection avoids SQLITE_BUSY under the per-user sequential
	// write pattern and keeps in-memory databases alive.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New opens the database, ensures the schema, and returns the store.
func New(path string) (store.Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wires the store onto an existing connection (used by tests).
func NewWithDB(db *sql.DB) store.Store { return &sqliteStore{db: db} }

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            conversation_id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            stage INTEGER NOT NULL,
            stage_state TEXT NOT NULL,
            status TEXT NOT NULL,
            extensions TEXT,
            version INTEGER NOT NULL,
            creation_time TIMESTAMP NOT NULL,
            update_time TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS conversations_user_idx ON conversations(user_id, status, creation_time);`,
		`CREATE TABLE IF NOT EXISTS turns (
            conversation_id TEXT NOT NULL,
            seq INTEGER NOT NULL,
            role TEXT NOT NULL,
            body TEXT NOT NULL,
            creation_time TIMESTAMP NOT NULL,
            PRIMARY KEY(conversation_id, seq)
        );`,
		`CREATE TABLE IF NOT EXISTS insights (
            insight_id TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL,
            stage INTEGER NOT NULL,
            turn_seq INTEGER NOT NULL,
            fields TEXT,
            key_insights TEXT,
            confidence REAL NOT NULL,
            creation_time TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS insights_conversation_idx ON insights(conversation_id, creation_time);`,
		`CREATE TABLE IF NOT EXISTS pending_events (
            user_id TEXT PRIMARY KEY,
            state TEXT NOT NULL,
            payload TEXT NOT NULL,
            creation_time TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS buffer_policies (
            user_id TEXT PRIMARY KEY,
            pre_minutes INTEGER NOT NULL,
            post_minutes INTEGER NOT NULL,
            meeting_surcharge_minutes INTEGER NOT NULL,
            weekend_buffering INTEGER NOT NULL,
            max_buffer_minutes INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS calendar_tokens (
            user_id TEXT PRIMARY KEY,
            token TEXT NOT NULL,
            update_time TIMESTAMP NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type sqliteStore struct{ db *sql.DB }

func (s *sqliteStore) Conversations() store.Conversations   { return &conversations{db: s.db} }
func (s *sqliteStore) Turns() store.Turns                   { return &turns{db: s.db} }
func (s *sqliteStore) Insights() store.Insights             { return &insights{db: s.db} }
func (s *sqliteStore) PendingEvents() store.PendingEvents   { return &pendings{db: s.db} }
func (s *sqliteStore) BufferPolicies() store.BufferPolicies { return &policies{db: s.db} }
func (s *sqliteStore) CalendarTokens() store.CalendarTokens { return &tokens{db: s.db} }

func (s *sqliteStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) ApplyTransition(ctx context.Context, t *store.Transition) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	c := t.Conversation
	extJSON, _ := json.Marshal(c.Extensions)
	res, err := tx.ExecContext(ctx, `
        UPDATE conversations SET stage=?, stage_state=?, status=?, extensions=?, version=version+1, update_time=?
        WHERE conversation_id=? AND version=?
    `, c.Stage, string(c.StageState), string(c.Status), string(extJSON), now, c.ConversationID, c.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrConflict
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM turns WHERE conversation_id=?`, c.ConversationID).Scan(&seq); err != nil {
		return err
	}
	for _, turn := range t.Turns {
		seq++
		turn.Seq = seq
		turn.CreationTime = now
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO turns (conversation_id, seq, role, body, creation_time) VALUES (?,?,?,?,?)
        `, c.ConversationID, seq, string(turn.Role), turn.Body, now); err != nil {
			return err
		}
	}

	for _, in := range t.Insights {
		if in.InsightID == "" {
			in.InsightID = uuid.New().String()
		}
		in.CreationTime = now
		fieldsJSON, _ := json.Marshal(in.Fields)
		keysJSON, _ := json.Marshal(in.KeyInsights)
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO insights (insight_id, conversation_id, stage, turn_seq, fields, key_insights, confidence, creation_time)
            VALUES (?,?,?,?,?,?,?,?)
        `, in.InsightID, c.ConversationID, in.Stage, in.TurnSeq, string(fieldsJSON), string(keysJSON), in.Confidence, now); err != nil {
			return err
		}
	}

	switch t.Pending {
	case store.PendingPut:
		payload, err := json.Marshal(t.PendingEvent)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO pending_events (user_id, state, payload, creation_time) VALUES (?,?,?,?)
            ON CONFLICT(user_id) DO UPDATE SET state=excluded.state, payload=excluded.payload, creation_time=excluded.creation_time
        `, t.PendingEvent.UserID, string(t.PendingEvent.State), string(payload), t.PendingEvent.CreationTime); err != nil {
			return err
		}
	case store.PendingDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_events WHERE user_id=?`, t.PendingUser); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	c.Version++
	c.UpdateTime = now
	return nil
}

// --- Conversations ---

type conversations struct{ db *sql.DB }

func (c *conversations) Create(ctx context.Context, m *model.Conversation) (*model.Conversation, error) {
	id := m.ConversationID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	extJSON, _ := json.Marshal(m.Extensions)
	if _, err := c.db.ExecContext(ctx, `
        INSERT INTO conversations (conversation_id, user_id, stage, stage_state, status, extensions, version, creation_time, update_time)
        VALUES (?,?,?,?,?,?,1,?,?)
    `, id, m.UserID, m.Stage, string(m.StageState), string(m.Status), string(extJSON), now, now); err != nil {
		return nil, err
	}
	out := *m
	out.ConversationID = id
	out.Version = 1
	out.CreationTime = now
	out.UpdateTime = now
	return &out, nil
}

func (c *conversations) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `
        SELECT conversation_id, user_id, stage, stage_state, status, extensions, version, creation_time, update_time
        FROM conversations WHERE conversation_id=?
    `, conversationID)
	return scanConversation(row)
}

func (c *conversations) LatestActive(ctx context.Context, userID string) (*model.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `
        SELECT conversation_id, user_id, stage, stage_state, status, extensions, version, creation_time, update_time
        FROM conversations WHERE user_id=? AND status='active'
        ORDER BY creation_time DESC LIMIT 1
    `, userID)
	return scanConversation(row)
}

func scanConversation(row *sql.Row) (*model.Conversation, error) {
	var out model.Conversation
	var stageState, status string
	var ext sql.NullString
	if err := row.Scan(&out.ConversationID, &out.UserID, &out.Stage, &stageState, &status, &ext, &out.Version, &out.CreationTime, &out.UpdateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	out.StageState = model.StageState(stageState)
	out.Status = model.ConversationStatus(status)
	if ext.Valid && ext.String != "" && ext.String != "null" {
		_ = json.Unmarshal([]byte(ext.String), &out.Extensions)
	}
	if out.Extensions == nil {
		out.Extensions = map[string]string{}
	}
	return &out, nil
}

// --- Turns ---

type turns struct{ db *sql.DB }

func (t *turns) List(ctx context.Context, conversationID string, limit int) ([]*model.Turn, error) {
	query := `SELECT conversation_id, seq, role, body, creation_time FROM turns WHERE conversation_id=? ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := t.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Turn
	for rows.Next() {
		var m model.Turn
		var role string
		if err := rows.Scan(&m.ConversationID, &m.Seq, &role, &m.Body, &m.CreationTime); err != nil {
			return nil, err
		}
		m.Role = model.TurnRole(role)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- Insights ---

type insights struct{ db *sql.DB }

func (i *insights) List(ctx context.Context, conversationID string) ([]*model.Insight, error) {
	rows, err := i.db.QueryContext(ctx, `
        SELECT insight_id, conversation_id, stage, turn_seq, fields, key_insights, confidence, creation_time
        FROM insights WHERE conversation_id=? ORDER BY creation_time ASC, insight_id ASC
    `, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Insight
	for rows.Next() {
		var m model.Insight
		var fields, keys sql.NullString
		if err := rows.Scan(&m.InsightID, &m.ConversationID, &m.Stage, &m.TurnSeq, &fields, &keys, &m.Confidence, &m.CreationTime); err != nil {
			return nil, err
		}
		if fields.Valid {
			_ = json.Unmarshal([]byte(fields.String), &m.Fields)
		}
		if keys.Valid {
			_ = json.Unmarshal([]byte(keys.String), &m.KeyInsights)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- PendingEvents ---

type pendings struct{ db *sql.DB }

func (p *pendings) Get(ctx context.Context, userID string) (*model.PendingEvent, error) {
	var payload string
	row := p.db.QueryRowContext(ctx, `SELECT payload FROM pending_events WHERE user_id=?`, userID)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	var out model.PendingEvent
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *pendings) Put(ctx context.Context, pe *model.PendingEvent) error {
	payload, err := json.Marshal(pe)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
        INSERT INTO pending_events (user_id, state, payload, creation_time) VALUES (?,?,?,?)
        ON CONFLICT(user_id) DO UPDATE SET state=excluded.state, payload=excluded.payload, creation_time=excluded.creation_time
    `, pe.UserID, string(pe.State), string(payload), pe.CreationTime)
	return err
}

func (p *pendings) Delete(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM pending_events WHERE user_id=?`, userID)
	return err
}

func (p *pendings) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM pending_events WHERE creation_time < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- BufferPolicies ---

type policies struct{ db *sql.DB }

func (b *policies) Get(ctx context.Context, userID string) (*model.BufferPolicy, error) {
	var out model.BufferPolicy
	var weekend int
	row := b.db.QueryRowContext(ctx, `
        SELECT user_id, pre_minutes, post_minutes, meeting_surcharge_minutes, weekend_buffering, max_buffer_minutes
        FROM buffer_policies WHERE user_id=?
    `, userID)
	if err := row.Scan(&out.UserID, &out.PreMinutes, &out.PostMinutes, &out.MeetingSurchargeMinutes, &weekend, &out.MaxBufferMinutes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	out.WeekendBuffering = weekend != 0
	return &out, nil
}

func (b *policies) Put(ctx context.Context, p *model.BufferPolicy) error {
	weekend := 0
	if p.WeekendBuffering {
		weekend = 1
	}
	_, err := b.db.ExecContext(ctx, `
        INSERT INTO buffer_policies (user_id, pre_minutes, post_minutes, meeting_surcharge_minutes, weekend_buffering, max_buffer_minutes)
        VALUES (?,?,?,?,?,?)
        ON CONFLICT(user_id) DO UPDATE SET
            pre_minutes=excluded.pre_minutes,
            post_minutes=excluded.post_minutes,
            meeting_surcharge_minutes=excluded.meeting_surcharge_minutes,
            weekend_buffering=excluded.weekend_buffering,
            max_buffer_minutes=excluded.max_buffer_minutes
    `, p.UserID, p.PreMinutes, p.PostMinutes, p.MeetingSurchargeMinutes, weekend, p.MaxBufferMinutes)
	return err
}

// --- CalendarTokens ---

type tokens struct{ db *sql.DB }

func (t *tokens) Get(ctx context.Context, userID string) (*model.CalendarToken, error) {
	var out model.CalendarToken
	var tok string
	row := t.db.QueryRowContext(ctx, `SELECT user_id, token, update_time FROM calendar_tokens WHERE user_id=?`, userID)
	if err := row.Scan(&out.UserID, &tok, &out.UpdateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	out.Token = []byte(tok)
	return &out, nil
}

func (t *tokens) Put(ctx context.Context, ct *model.CalendarToken) error {
	now := time.Now().UTC()
	_, err := t.db.ExecContext(ctx, `
        INSERT INTO calendar_tokens (user_id, token, update_time) VALUES (?,?,?)
        ON CONFLICT(user_id) DO UPDATE SET token=excluded.token, update_time=excluded.update_time
    `, ct.UserID, string(ct.Token), now)
	return err
}

func (t *tokens) Delete(ctx context.Context, userID string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM calendar_tokens WHERE user_id=?`, userID)
	return err
}
