package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/mentrabridge/pkg/memory"
)

// RecordInbound implements [memory.SessionStore]. The session row is upserted
// and the entry inserted in one transaction; an entry whose message id is
// already stored is skipped.
func (s *Store) RecordInbound(ctx context.Context, rec memory.InboundRecord) error {
	const upsertSession = `
		INSERT INTO device_sessions (store_path, session_key, agent_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (store_path, session_key)
		DO UPDATE SET updated_at = now()`

	const insertEntry = `
		INSERT INTO device_session_entries
		    (store_path, session_key, message_id, channel, sender, body, media_path, media_type, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (store_path, session_key, message_id) DO NOTHING`

	e := rec.Entry
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertSession, rec.StorePath, rec.SessionKey, rec.AgentID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, insertEntry,
			rec.StorePath, rec.SessionKey, e.MessageID,
			e.Channel, e.From, e.Body, e.MediaPath, e.MediaType, e.Timestamp,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("session store: record inbound: %w", err)
	}
	return nil
}

// UpdateLastRoute implements [memory.SessionStore].
func (s *Store) UpdateLastRoute(ctx context.Context, storePath, sessionKey string, r memory.Route) error {
	const q = `
		UPDATE device_sessions
		SET    last_channel = $3, last_to = $4, last_account = $5, updated_at = now()
		WHERE  store_path = $1 AND session_key = $2`

	tag, err := s.pool.Exec(ctx, q, storePath, sessionKey, r.Channel, r.To, r.AccountID)
	if err != nil {
		return fmt.Errorf("session store: update last route: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// Session implements [memory.SessionStore].
func (s *Store) Session(ctx context.Context, storePath, sessionKey string) (memory.SessionInfo, error) {
	const q = `
		SELECT s.store_path, s.session_key, s.agent_id, s.created_at, s.updated_at,
		       s.last_channel, s.last_to, s.last_account,
		       (SELECT count(*) FROM device_session_entries e
		         WHERE e.store_path = s.store_path AND e.session_key = s.session_key)
		FROM   device_sessions s
		WHERE  s.store_path = $1 AND s.session_key = $2`

	var info memory.SessionInfo
	err := s.pool.QueryRow(ctx, q, storePath, sessionKey).Scan(
		&info.StorePath,
		&info.SessionKey,
		&info.AgentID,
		&info.CreatedAt,
		&info.UpdatedAt,
		&info.LastRoute.Channel,
		&info.LastRoute.To,
		&info.LastRoute.AccountID,
		&info.EntryCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.SessionInfo{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.SessionInfo{}, fmt.Errorf("session store: get session: %w", err)
	}
	return info, nil
}

// Recent implements [memory.SessionStore].
func (s *Store) Recent(ctx context.Context, storePath, sessionKey string, limit int) ([]memory.Entry, error) {
	if _, err := s.Session(ctx, storePath, sessionKey); err != nil {
		return nil, err
	}

	const q = `
		SELECT message_id, channel, sender, body, media_path, media_type, timestamp
		FROM (
		    SELECT *
		    FROM   device_session_entries
		    WHERE  store_path = $1 AND session_key = $2
		    ORDER  BY timestamp DESC, id DESC
		    LIMIT  $3
		) recent
		ORDER BY timestamp, id`

	var lim any // NULL means no limit
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, q, storePath, sessionKey, lim)
	if err != nil {
		return nil, fmt.Errorf("session store: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entry, error) {
		var e memory.Entry
		err := row.Scan(&e.MessageID, &e.Channel, &e.From, &e.Body, &e.MediaPath, &e.MediaType, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	return entries, nil
}
