// Package pgstore is a PostgreSQL message.Backend on a pgx pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/message"
)

// Schema is applied by EnsureSchema. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS ftn_echo_areas (
	domain         TEXT NOT NULL,
	tag            TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	uplink_address TEXT NOT NULL DEFAULT '',
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	message_count  BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (domain, tag)
);

CREATE TABLE IF NOT EXISTS ftn_messages (
	seq           BIGSERIAL UNIQUE,
	id            UUID PRIMARY KEY,
	kind          SMALLINT NOT NULL,
	area_tag      TEXT NOT NULL DEFAULT '',
	domain        TEXT NOT NULL DEFAULT '',
	scope         TEXT NOT NULL,
	from_address  TEXT NOT NULL DEFAULT '',
	to_address    TEXT NOT NULL DEFAULT '',
	origin_author TEXT NOT NULL DEFAULT '',
	from_name     TEXT NOT NULL DEFAULT '',
	to_name       TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	date_written  TIMESTAMPTZ NOT NULL,
	attributes    INTEGER NOT NULL DEFAULT 0,
	message_id    TEXT NOT NULL DEFAULT '',
	reply_msgid   TEXT NOT NULL DEFAULT '',
	reply_to_id   UUID NULL,
	kludge_lines  TEXT[] NOT NULL DEFAULT '{}',
	seen_by       TEXT[] NOT NULL DEFAULT '{}',
	path          TEXT[] NOT NULL DEFAULT '{}',
	charset       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	imported_at   TIMESTAMPTZ NOT NULL,
	sent_at       TIMESTAMPTZ NULL
);

CREATE INDEX IF NOT EXISTS ftn_messages_msgid ON ftn_messages (scope, message_id, seq);
CREATE INDEX IF NOT EXISTS ftn_messages_status ON ftn_messages (status, imported_at, seq);
`

// Store is a pgx-pool backed message store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, pings the server and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logging.Info("connected to postgres message store")
	return s, nil
}

// EnsureSchema creates the tables and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgstore: apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func addrText(a ftn.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.StringWithDomain()
}

func parseAddr(s string) ftn.Address {
	var a ftn.Address
	_ = a.UnmarshalText([]byte(s))
	return a
}

func nullableUUID(id string) interface{} {
	if id == "" {
		return nil
	}
	return id
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Store) InsertMessage(ctx context.Context, m *message.StoredMessage) error {
	const query = `
		INSERT INTO ftn_messages (
			id, kind, area_tag, domain, scope, from_address, to_address, origin_author,
			from_name, to_name, subject, body, date_written, attributes,
			message_id, reply_msgid, reply_to_id, kludge_lines, seen_by, path,
			charset, status, imported_at, sent_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`
	_, err := s.pool.Exec(ctx, query,
		m.ID, int16(m.Kind), m.AreaTag, m.Domain, m.Scope(),
		addrText(m.FromAddress), addrText(m.ToAddress), addrText(m.OriginAuthor),
		m.FromName, m.ToName, m.Subject, m.Body, m.DateWritten, int32(m.Attributes),
		m.MessageID, m.ReplyMSGID, nullableUUID(m.ReplyToID),
		nonNil(m.KludgeLines), nonNil(m.SeenBy), nonNil(m.Path),
		m.Charset, m.Status, m.ImportedAt, nullableTime(m.SentAt),
	)
	if err != nil {
		return fmt.Errorf("pgstore: insert message: %w", err)
	}
	return nil
}

const selectMessage = `
	SELECT id::text, kind, area_tag, domain, from_address, to_address, origin_author,
		from_name, to_name, subject, body, date_written, attributes,
		message_id, reply_msgid, COALESCE(reply_to_id::text, ''), kludge_lines, seen_by, path,
		charset, status, imported_at, sent_at
	FROM ftn_messages`

func scanMessage(row pgx.Row) (*message.StoredMessage, error) {
	var (
		m                message.StoredMessage
		kind             int16
		attrs            int32
		from, to, author string
		sentAt           *time.Time
	)
	err := row.Scan(&m.ID, &kind, &m.AreaTag, &m.Domain, &from, &to, &author,
		&m.FromName, &m.ToName, &m.Subject, &m.Body, &m.DateWritten, &attrs,
		&m.MessageID, &m.ReplyMSGID, &m.ReplyToID, &m.KludgeLines, &m.SeenBy, &m.Path,
		&m.Charset, &m.Status, &m.ImportedAt, &sentAt)
	if err != nil {
		return nil, err
	}
	m.Kind = ftn.Kind(kind)
	m.Attributes = uint16(attrs)
	m.FromAddress = parseAddr(from)
	m.ToAddress = parseAddr(to)
	m.OriginAuthor = parseAddr(author)
	if sentAt != nil {
		m.SentAt = *sentAt
	}
	return &m, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*message.StoredMessage, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, selectMessage+` WHERE id::text = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, message.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get message: %w", err)
	}
	return m, nil
}

func (s *Store) FindByMSGID(ctx context.Context, scope, msgid string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id::text FROM ftn_messages WHERE scope = $1 AND message_id = $2 ORDER BY seq LIMIT 1`,
		scope, msgid).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pgstore: find msgid: %w", err)
	}
	return id, true, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id, status string, at time.Time) error {
	var sent interface{}
	if status == message.StatusSent {
		sent = at
	}
	cmd, err := s.pool.Exec(ctx,
		`UPDATE ftn_messages SET status = $2, sent_at = COALESCE($3, sent_at) WHERE id::text = $1`,
		id, status, sent)
	if err != nil {
		return fmt.Errorf("pgstore: update status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return message.ErrNotFound
	}
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, status string) ([]*message.StoredMessage, error) {
	rows, err := s.pool.Query(ctx, selectMessage+` WHERE status = $1 ORDER BY imported_at, seq`, status)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list by status: %w", err)
	}
	defer rows.Close()

	var out []*message.StoredMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetArea(ctx context.Context, domain, tag string) (*message.EchoArea, error) {
	var a message.EchoArea
	err := s.pool.QueryRow(ctx,
		`SELECT tag, domain, description, uplink_address, is_active, message_count, created_at
		 FROM ftn_echo_areas WHERE domain = $1 AND tag = $2`,
		domain, tag).Scan(&a.Tag, &a.Domain, &a.Description, &a.UplinkAddress, &a.IsActive, &a.MessageCount, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, message.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get area: %w", err)
	}
	return &a, nil
}

func (s *Store) PutArea(ctx context.Context, a *message.EchoArea) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ftn_echo_areas (domain, tag, description, uplink_address, is_active, message_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (domain, tag) DO UPDATE SET
			description = EXCLUDED.description,
			uplink_address = EXCLUDED.uplink_address,
			is_active = EXCLUDED.is_active,
			message_count = EXCLUDED.message_count`,
		a.Domain, a.Tag, a.Description, a.UplinkAddress, a.IsActive, a.MessageCount, created)
	if err != nil {
		return fmt.Errorf("pgstore: put area: %w", err)
	}
	return nil
}

func (s *Store) IncrementAreaCount(ctx context.Context, domain, tag string, delta int64) error {
	cmd, err := s.pool.Exec(ctx,
		`UPDATE ftn_echo_areas SET message_count = message_count + $3 WHERE domain = $1 AND tag = $2`,
		domain, tag, delta)
	if err != nil {
		return fmt.Errorf("pgstore: increment area count: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return message.ErrNotFound
	}
	return nil
}

func (s *Store) ListAreas(ctx context.Context) ([]message.EchoArea, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tag, domain, description, uplink_address, is_active, message_count, created_at
		 FROM ftn_echo_areas ORDER BY domain, tag`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list areas: %w", err)
	}
	defer rows.Close()

	var out []message.EchoArea
	for rows.Next() {
		var a message.EchoArea
		if err := rows.Scan(&a.Tag, &a.Domain, &a.Description, &a.UplinkAddress, &a.IsActive, &a.MessageCount, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
