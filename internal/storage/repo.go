package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

// LoadDNA returns the stored configuration document for owner, or ErrNotFound.
func (s *Store) LoadDNA(ctx context.Context, ownerID string) (Document, error) {
	q := s.sql.Select("doc", "updated_at").From("bot_dna").Where(sq.Eq{"owner_id": ownerID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Document{}, fmt.Errorf("build load dna query: %w", err)
	}
	var doc Document
	var body string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&body, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("load dna: %w", err)
	}
	doc.Body = json.RawMessage(body)
	return doc, nil
}

// CreateDNA inserts doc only when no document exists for owner. The first
// writer wins; created reports whether this call wrote it.
func (s *Store) CreateDNA(ctx context.Context, ownerID string, doc json.RawMessage) (created bool, err error) {
	q := s.sql.Insert("bot_dna").
		Columns("owner_id", "doc", "updated_at").
		Values(ownerID, string(doc), nowExpr(s.driver)).
		Suffix("ON CONFLICT(owner_id) DO NOTHING")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build create dna query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("create dna: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create dna rows affected: %w", err)
	}
	return n > 0, nil
}

// MergeDNA overlays the top-level keys of patch onto the stored document,
// creating it when absent. Keys missing from patch keep their stored value.
// The row is locked for the read-modify-write, so concurrent merges of
// disjoint keys both survive.
func (s *Store) MergeDNA(ctx context.Context, ownerID string, patch map[string]json.RawMessage) (json.RawMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin merge dna: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// a concurrent first insert blocks here until it commits
	ensure := s.sql.Insert("bot_dna").
		Columns("owner_id", "doc", "updated_at").
		Values(ownerID, "{}", nowExpr(s.driver)).
		Suffix("ON CONFLICT(owner_id) DO NOTHING")
	sqlStr, args, err := ensure.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build merge dna insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("ensure dna row: %w", err)
	}

	sqlStr, args, err = s.mergeSelect(ownerID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build merge dna select: %w", err)
	}
	var body string
	if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&body); err != nil {
		return nil, fmt.Errorf("read dna for merge: %w", err)
	}
	current := map[string]json.RawMessage{}
	if strings.TrimSpace(body) != "" {
		if err := json.Unmarshal([]byte(body), &current); err != nil {
			return nil, fmt.Errorf("decode stored dna: %w", err)
		}
	}

	for k, v := range patch {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("encode merged dna: %w", err)
	}

	update := s.sql.Update("bot_dna").
		Set("doc", string(merged)).
		Set("updated_at", nowExpr(s.driver)).
		Where(sq.Eq{"owner_id": ownerID})
	sqlStr, args, err = update.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build merge dna update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("write merged dna: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge dna: %w", err)
	}
	return merged, nil
}

// mergeSelect reads the document inside the merge transaction. Postgres
// takes a row lock; sqlite already serializes writers on its one connection.
func (s *Store) mergeSelect(ownerID string) sq.SelectBuilder {
	q := s.sql.Select("doc").From("bot_dna").Where(sq.Eq{"owner_id": ownerID})
	if s.driver == "postgres" {
		q = q.Suffix("FOR UPDATE")
	}
	return q
}

// LoadEvents returns the stored event list document for day, or ErrNotFound.
func (s *Store) LoadEvents(ctx context.Context, day string) (Document, error) {
	q := s.sql.Select("events", "updated_at").From("event_days").Where(sq.Eq{"day": day})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Document{}, fmt.Errorf("build load events query: %w", err)
	}
	var doc Document
	var body string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&body, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("load events: %w", err)
	}
	doc.Body = json.RawMessage(body)
	return doc, nil
}

// ReplaceEvents overwrites the whole event list for day. No version check:
// the last writer wins.
func (s *Store) ReplaceEvents(ctx context.Context, day string, events json.RawMessage) error {
	q := s.sql.Insert("event_days").
		Columns("day", "events", "updated_at").
		Values(day, string(events), nowExpr(s.driver)).
		Suffix("ON CONFLICT(day) DO UPDATE SET events=excluded.events, updated_at=excluded.updated_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build replace events query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("replace events: %w", err)
	}
	return nil
}

func (s *Store) LogAction(ctx context.Context, e AuditEntry) error {
	if strings.TrimSpace(e.MetaJSON) == "" {
		e.MetaJSON = "{}"
	}
	if !json.Valid([]byte(e.MetaJSON)) {
		e.MetaJSON = "{}"
	}

	q := s.sql.Insert("audit_log").
		Columns("actor", "action", "meta_json").
		Values(e.Actor, e.Action, e.MetaJSON)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// RecentActions lists the newest audit entries first.
func (s *Store) RecentActions(ctx context.Context, limit uint64) ([]AuditEntry, error) {
	q := s.sql.Select("actor", "action", "meta_json").
		From("audit_log").
		OrderBy("id DESC").
		Limit(limit)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent actions query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("recent actions: %w", err)
	}
	defer rows.Close()

	out := make([]AuditEntry, 0)
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.Actor, &e.Action, &e.MetaJSON); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return out, nil
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
