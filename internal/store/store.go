// Package store is the SQLite record log. Records are appended per
// recording session and read back in insertion order.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/domreplay/dbopen"
	"github.com/hazyhaar/domreplay/event"
)

// Store is the record log database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the record log at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	all := append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, opts...)
	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Ready checks that the database answers.
func (s *Store) Ready(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// AppendRecord appends rec to the log of session.
func (s *Store) AppendRecord(ctx context.Context, session string, rec event.RecordData) error {
	raw, err := event.MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", rec.Type, err)
	}
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO records (session_id, related_id, type, time, raw, created_at)
		VALUES (?,?,?,?,?,?)`,
		session, rec.RelatedID, string(rec.Type), rec.Time, string(raw), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// AppendRecords appends recs to the log of session in one transaction.
// Either every record is stored or none is.
func (s *Store) AppendRecords(ctx context.Context, session string, recs []event.RecordData) error {
	raws := make([][]byte, len(recs))
	for i, rec := range recs {
		raw, err := event.MarshalRecord(rec)
		if err != nil {
			return fmt.Errorf("store: marshal %s: %w", rec.Type, err)
		}
		raws[i] = raw
	}
	now := time.Now().UnixMilli()
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO records (session_id, related_id, type, time, raw, created_at)
			VALUES (?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, rec := range recs {
			if _, err := stmt.ExecContext(ctx, session, rec.RelatedID, string(rec.Type), rec.Time, string(raws[i]), now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: append batch: %w", err)
	}
	return nil
}

// ClearSession deletes every record of session.
func (s *Store) ClearSession(ctx context.Context, session string) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM records WHERE session_id = ?`, session)
		return err
	})
}

// Records returns the records of session in insertion order. A non-empty
// relatedID restricts the result to one context.
func (s *Store) Records(ctx context.Context, session, relatedID string) ([]event.RecordData, error) {
	q := `SELECT raw FROM records WHERE session_id = ?`
	args := []any{session}
	if relatedID != "" {
		q += ` AND related_id = ?`
		args = append(args, relatedID)
	}
	rows, err := s.DB.QueryContext(ctx, q+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: records: %w", err)
	}
	defer rows.Close()

	var out []event.RecordData
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := event.UnmarshalRecord([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("store: decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ContextInfo describes one recorded document context.
type ContextInfo struct {
	RelatedID  string `json:"related_id"`
	ParentID   string `json:"parent_id,omitempty"`
	Frame      bool   `json:"frame,omitempty"`
	Href       string `json:"href"`
	Title      string `json:"title,omitempty"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Records    int    `json:"records"`
	Terminated bool   `json:"terminated"`
}

// Contexts lists the contexts of session in recording order.
func (s *Store) Contexts(ctx context.Context, session string) ([]ContextInfo, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT h.raw,
		       (SELECT COUNT(*) FROM records r WHERE r.session_id = h.session_id AND r.related_id = h.related_id),
		       EXISTS (SELECT 1 FROM records r WHERE r.session_id = h.session_id AND r.related_id = h.related_id AND r.type = 'TERMINATE')
		FROM records h
		WHERE h.session_id = ? AND h.type = 'HEAD'
		ORDER BY h.seq`, session)
	if err != nil {
		return nil, fmt.Errorf("store: contexts: %w", err)
	}
	defer rows.Close()

	var out []ContextInfo
	for rows.Next() {
		var (
			raw  string
			info ContextInfo
		)
		if err := rows.Scan(&raw, &info.Records, &info.Terminated); err != nil {
			return nil, err
		}
		rec, err := event.UnmarshalRecord([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("store: decode head: %w", err)
		}
		h := event.HeadOf(rec)
		if h == nil {
			continue
		}
		info.RelatedID = rec.RelatedID
		info.ParentID = h.ParentID
		info.Frame = h.Frame
		info.Href = h.Href
		info.Title = h.Title
		info.Width, info.Height = h.Width, h.Height
		out = append(out, info)
	}
	return out, rows.Err()
}

// SessionInfo summarises one recording session.
type SessionInfo struct {
	ID       string `json:"id"`
	Records  int    `json:"records"`
	Contexts int    `json:"contexts"`
	First    int64  `json:"first_at"`
	Last     int64  `json:"last_at"`
}

// Sessions lists every session, most recent activity first.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT session_id, COUNT(*), SUM(type = 'HEAD'), MIN(created_at), MAX(created_at)
		FROM records
		GROUP BY session_id
		ORDER BY MAX(seq) DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var si SessionInfo
		if err := rows.Scan(&si.ID, &si.Records, &si.Contexts, &si.First, &si.Last); err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// ForSession binds the store to one session. The result is the durable
// storage of a recorder.
func (s *Store) ForSession(session string) *SessionLog {
	return &SessionLog{store: s, session: session}
}

// SessionLog is the record log of one session.
type SessionLog struct {
	store   *Store
	session string
}

// Session returns the bound session id.
func (l *SessionLog) Session() string { return l.session }

func (l *SessionLog) Ready(ctx context.Context) error { return l.store.Ready(ctx) }

func (l *SessionLog) Clear(ctx context.Context) error {
	return l.store.ClearSession(ctx, l.session)
}

func (l *SessionLog) AddRecord(ctx context.Context, rec event.RecordData) error {
	return l.store.AppendRecord(ctx, l.session, rec)
}
