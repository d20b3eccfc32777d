package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies
// connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New opens the database, applies the schema, and returns the store.
func New(ctx context.Context, dsn string) (store.Store, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB constructs a Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            conversation_id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            stage INT NOT NULL,
            stage_state TEXT NOT NULL,
            status TEXT NOT NULL,
            extensions JSONB,
            version BIGINT NOT NULL,
            creation_time TIMESTAMPTZ NOT NULL DEFAULT now(),
            update_time TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS conversations_user_idx ON conversations(user_id, status, creation_time)`,
		`CREATE TABLE IF NOT EXISTS turns (
            conversation_id TEXT NOT NULL,
            seq BIGINT NOT NULL,
            role TEXT NOT NULL,
            body TEXT NOT NULL,
            creation_time TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY(conversation_id, seq)
        )`,
		`CREATE TABLE IF NOT EXISTS insights (
            insight_id TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL,
            stage INT NOT NULL,
            turn_seq BIGINT NOT NULL,
            fields JSONB,
            key_insights JSONB,
            confidence DOUBLE PRECISION NOT NULL,
            creation_time TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS insights_conversation_idx ON insights(conversation_id, creation_time)`,
		`CREATE TABLE IF NOT EXISTS pending_events (
            user_id TEXT PRIMARY KEY,
            state TEXT NOT NULL,
            payload JSONB NOT NULL,
            creation_time TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS buffer_policies (
            user_id TEXT PRIMARY KEY,
            pre_minutes INT NOT NULL,
            post_minutes INT NOT NULL,
            meeting_surcharge_minutes INT NOT NULL,
            weekend_buffering BOOLEAN NOT NULL,
            max_buffer_minutes INT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS calendar_tokens (
            user_id TEXT PRIMARY KEY,
            token JSONB NOT NULL,
            update_time TIMESTAMPTZ NOT NULL
        )`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Bootstrap verifies Postgres is reachable and the schema exists.
func Bootstrap(ctx context.Context, dsn string) error {
	if dsn == "" {
		return nil
	}
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return EnsureSchema(ctx, db)
}

type pgStore struct{ db *sql.DB }

func (s *pgStore) Conversations() store.Conversations   { return &conversations{db: s.db} }
func (s *pgStore) Turns() store.Turns                   { return &turns{db: s.db} }
func (s *pgStore) Insights() store.Insights             { return &insights{db: s.db} }
func (s *pgStore) PendingEvents() store.PendingEvents   { return &pendings{db: s.db} }
func (s *pgStore) BufferPolicies() store.BufferPolicies { return &policies{db: s.db} }
func (s *pgStore) CalendarTokens() store.CalendarTokens { return &tokens{db: s.db} }

func (s *pgStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *pgStore) ApplyTransition(ctx context.Context, t *store.Transition) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	c := t.Conversation
	extJSON, _ := json.Marshal(c.Extensions)
	var updated time.Time
	err = tx.QueryRowContext(ctx, `
        UPDATE conversations SET stage=$1, stage_state=$2, status=$3, extensions=$4, version=version+1, update_time=now()
        WHERE conversation_id=$5 AND version=$6
        RETURNING update_time
    `, c.Stage, string(c.StageState), string(c.Status), extJSON, c.ConversationID, c.Version).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrConflict
		}
		return err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM turns WHERE conversation_id=$1`, c.ConversationID).Scan(&seq); err != nil {
		return err
	}
	for _, turn := range t.Turns {
		seq++
		turn.Seq = seq
		if err := tx.QueryRowContext(ctx, `
            INSERT INTO turns (conversation_id, seq, role, body) VALUES ($1,$2,$3,$4)
            RETURNING creation_time
        `, c.ConversationID, seq, string(turn.Role), turn.Body).Scan(&turn.CreationTime); err != nil {
			return err
		}
	}

	for _, in := range t.Insights {
		if in.InsightID == "" {
			in.InsightID = uuid.New().String()
		}
		fieldsJSON, _ := json.Marshal(in.Fields)
		keysJSON, _ := json.Marshal(in.KeyInsights)
		if err := tx.QueryRowContext(ctx, `
            INSERT INTO insights (insight_id, conversation_id, stage, turn_seq, fields, key_insights, confidence)
            VALUES ($1,$2,$3,$4,$5,$6,$7)
            RETURNING creation_time
        `, in.InsightID, c.ConversationID, in.Stage, in.TurnSeq, fieldsJSON, keysJSON, in.Confidence).Scan(&in.CreationTime); err != nil {
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
            INSERT INTO pending_events (user_id, state, payload, creation_time) VALUES ($1,$2,$3,$4)
            ON CONFLICT (user_id) DO UPDATE SET state=excluded.state, payload=excluded.payload, creation_time=excluded.creation_time
        `, t.PendingEvent.UserID, string(t.PendingEvent.State), payload, t.PendingEvent.CreationTime); err != nil {
			return err
		}
	case store.PendingDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_events WHERE user_id=$1`, t.PendingUser); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	c.Version++
	c.UpdateTime = updated
	return nil
}

// --- Conversations ---

type conversations struct{ db *sql.DB }

func (c *conversations) Create(ctx context.Context, m *model.Conversation) (*model.Conversation, error) {
	id := m.ConversationID
	if id == "" {
		id = uuid.New().String()
	}
	extJSON, _ := json.Marshal(m.Extensions)
	var created time.Time
	row := c.db.QueryRowContext(ctx, `
        INSERT INTO conversations (conversation_id, user_id, stage, stage_state, status, extensions, version)
        VALUES ($1,$2,$3,$4,$5,$6,1)
        RETURNING creation_time
    `, id, m.UserID, m.Stage, string(m.StageState), string(m.Status), extJSON)
	if err := row.Scan(&created); err != nil {
		return nil, err
	}
	out := *m
	out.ConversationID = id
	out.Version = 1
	out.CreationTime = created
	out.UpdateTime = created
	return &out, nil
}

func (c *conversations) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `
        SELECT conversation_id, user_id, stage, stage_state, status, extensions, version, creation_time, update_time
        FROM conversations WHERE conversation_id=$1
    `, conversationID)
	return scanConversation(row)
}

func (c *conversations) LatestActive(ctx context.Context, userID string) (*model.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `
        SELECT conversation_id, user_id, stage, stage_state, status, extensions, version, creation_time, update_time
        FROM conversations WHERE user_id=$1 AND status='active'
        ORDER BY creation_time DESC LIMIT 1
    `, userID)
	return scanConversation(row)
}

func scanConversation(row *sql.Row) (*model.Conversation, error) {
	var out model.Conversation
	var stageState, status string
	var ext []byte
	if err := row.Scan(&out.ConversationID, &out.UserID, &out.Stage, &stageState, &status, &ext, &out.Version, &out.CreationTime, &out.UpdateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	out.StageState = model.StageState(stageState)
	out.Status = model.ConversationStatus(status)
	if len(ext) > 0 {
		_ = json.Unmarshal(ext, &out.Extensions)
	}
	if out.Extensions == nil {
		out.Extensions = map[string]string{}
	}
	return &out, nil
}

// --- Turns ---

type turns struct{ db *sql.DB }

func (t *turns) List(ctx context.Context, conversationID string, limit int) ([]*model.Turn, error) {
	query := `SELECT conversation_id, seq, role, body, creation_time FROM turns WHERE conversation_id=$1 ORDER BY seq ASC`
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
        FROM insights WHERE conversation_id=$1 ORDER BY creation_time ASC, insight_id ASC
    `, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Insight
	for rows.Next() {
		var m model.Insight
		var fields, keys []byte
		if err := rows.Scan(&m.InsightID, &m.ConversationID, &m.Stage, &m.TurnSeq, &fields, &keys, &m.Confidence, &m.CreationTime); err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			_ = json.Unmarshal(fields, &m.Fields)
		}
		if len(keys) > 0 {
			_ = json.Unmarshal(keys, &m.KeyInsights)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- PendingEvents ---

type pendings struct{ db *sql.DB }

func (p *pendings) Get(ctx context.Context, userID string) (*model.PendingEvent, error) {
	var payload []byte
	row := p.db.QueryRowContext(ctx, `SELECT payload FROM pending_events WHERE user_id=$1`, userID)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	var out model.PendingEvent
	if err := json.Unmarshal(payload, &out); err != nil {
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
        INSERT INTO pending_events (user_id, state, payload, creation_time) VALUES ($1,$2,$3,$4)
        ON CONFLICT (user_id) DO UPDATE SET state=excluded.state, payload=excluded.payload, creation_time=excluded.creation_time
    `, pe.UserID, string(pe.State), payload, pe.CreationTime)
	return err
}

func (p *pendings) Delete(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM pending_events WHERE user_id=$1`, userID)
	return err
}

func (p *pendings) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM pending_events WHERE creation_time < $1`, cutoff)
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
	row := b.db.QueryRowContext(ctx, `
        SELECT user_id, pre_minutes, post_minutes, meeting_surcharge_minutes, weekend_buffering, max_buffer_minutes
        FROM buffer_policies WHERE user_id=$1
    `, userID)
	if err := row.Scan(&out.UserID, &out.PreMinutes, &out.PostMinutes, &out.MeetingSurchargeMinutes, &out.WeekendBuffering, &out.MaxBufferMinutes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (b *policies) Put(ctx context.Context, p *model.BufferPolicy) error {
	_, err := b.db.ExecContext(ctx, `
        INSERT INTO buffer_policies (user_id, pre_minutes, post_minutes, meeting_surcharge_minutes, weekend_buffering, max_buffer_minutes)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (user_id) DO UPDATE SET
            pre_minutes=excluded.pre_minutes,
            post_minutes=excluded.post_minutes,
            meeting_surcharge_minutes=excluded.meeting_surcharge_minutes,
            weekend_buffering=excluded.weekend_buffering,
            max_buffer_minutes=excluded.max_buffer_minutes
    `, p.UserID, p.PreMinutes, p.PostMinutes, p.MeetingSurchargeMinutes, p.WeekendBuffering, p.MaxBufferMinutes)
	return err
}

// --- CalendarTokens ---

type tokens struct{ db *sql.DB }

func (t *tokens) Get(ctx context.Context, userID string) (*model.CalendarToken, error) {
	var out model.CalendarToken
	row := t.db.QueryRowContext(ctx, `SELECT user_id, token, update_time FROM calendar_tokens WHERE user_id=$1`, userID)
	if err := row.Scan(&out.UserID, &out.Token, &out.UpdateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (t *tokens) Put(ctx context.Context, ct *model.CalendarToken) error {
	_, err := t.db.ExecContext(ctx, `
        INSERT INTO calendar_tokens (user_id, token, update_time) VALUES ($1,$2,now())
        ON CONFLICT (user_id) DO UPDATE SET token=excluded.token, update_time=now()
    `, ct.UserID, ct.Token)
	return err
}

func (t *tokens) Delete(ctx context.Context, userID string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM calendar_tokens WHERE user_id=$1`, userID)
	return err
}
