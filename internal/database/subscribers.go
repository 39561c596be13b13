package database

import (
	"context"
	"fmt"
	"time"

	"gas-tracker-bot/internal/types"
)

// SaveSubscriber inserts the subscriber or overwrites its thresholds and state.
func (d *DB) SaveSubscriber(ctx context.Context, s types.Subscriber) error {
	query := `
	INSERT INTO subscribers (chat_id, low_threshold, high_threshold, alert_state, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(chat_id) DO UPDATE SET
		low_threshold = excluded.low_threshold,
		high_threshold = excluded.high_threshold,
		alert_state = excluded.alert_state;`

	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := d.db.ExecContext(ctx, query, s.ChatID, s.Low, s.High, string(s.State), createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save subscriber %d: %w", s.ChatID, err)
	}
	return nil
}

// SaveStates updates alert states only, in one transaction.
func (d *DB) SaveStates(ctx context.Context, states map[int64]types.AlertState) error {
	if len(states) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin state update: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE subscribers SET alert_state = ? WHERE chat_id = ?;`)
	if err != nil {
		return fmt.Errorf("failed to prepare state update: %w", err)
	}
	defer stmt.Close()

	for chatID, state := range states {
		if _, err := stmt.ExecContext(ctx, string(state), chatID); err != nil {
			return fmt.Errorf("failed to update state for chat %d: %w", chatID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state update: %w", err)
	}
	return nil
}

// DeleteSubscriber removes a subscriber; deleting an unknown chat is not an error.
func (d *DB) DeleteSubscriber(ctx context.Context, chatID int64) error {
	query := `DELETE FROM subscribers WHERE chat_id = ?;`
	if _, err := d.db.ExecContext(ctx, query, chatID); err != nil {
		return fmt.Errorf("failed to delete subscriber %d: %w", chatID, err)
	}
	return nil
}

// LoadSubscribers fetches all subscribers ordered by chat id
func (d *DB) LoadSubscribers(ctx context.Context) ([]types.Subscriber, error) {
	query := `SELECT chat_id, low_threshold, high_threshold, alert_state, created_at FROM subscribers ORDER BY chat_id;`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var subscribers []types.Subscriber
	for rows.Next() {
		var (
			s         types.Subscriber
			state     string
			createdAt int64
		)
		if err := rows.Scan(&s.ChatID, &s.Low, &s.High, &state, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		s.State = types.AlertState(state)
		s.CreatedAt = time.Unix(createdAt, 0)
		subscribers = append(subscribers, s)
	}

	return subscribers, rows.Err()
}
