package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/classletter/newsletter-engine/internal/domain"
)

// NotificationRepo handles persistence for user-facing notifications.
type NotificationRepo struct{}

// Record inserts a notification.
func (r *NotificationRepo) Record(ctx context.Context, db *sql.DB, n domain.Notification) error {
	suggestions := n.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	data, err := json.Marshal(suggestions)
	if err != nil {
		return fmt.Errorf("marshal suggestions: %w", err)
	}

	const q = `INSERT INTO notifications (run_id, type, severity, message, suggestions_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q,
		n.RunID,
		string(n.Type),
		string(n.Severity),
		n.Message,
		string(data),
		n.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

// ListByRun returns all notifications for a run in insertion order.
func (r *NotificationRepo) ListByRun(ctx context.Context, db *sql.DB, runID string) ([]domain.Notification, error) {
	const q = `SELECT run_id, type, severity, message, suggestions_json, created_at
FROM notifications
WHERE run_id = ?
ORDER BY id ASC`

	rows, err := db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var typ, sev, sugg string
		if err := rows.Scan(&n.RunID, &typ, &sev, &n.Message, &sugg, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = domain.NotificationType(typ)
		n.Severity = domain.Severity(sev)
		if err := json.Unmarshal([]byte(sugg), &n.Suggestions); err != nil {
			return nil, fmt.Errorf("decode suggestions: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
