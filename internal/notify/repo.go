package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("notify: notification not found")

type Notification struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

type Repo struct{ DB *pgxpool.Pool }

// Insert stores n unless a notification for the same order exists. It reports
// whether a row was written.
func (r *Repo) Insert(ctx context.Context, n Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	tag, err := r.DB.Exec(ctx, `
		INSERT INTO notifications (id, order_id, title, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING`, n.ID, n.OrderID, n.Title, n.Description)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// List returns the newest notifications first.
func (r *Repo) List(ctx context.Context, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, title, description, read, created_at FROM notifications
		WHERE NOT ($1 AND read)
		ORDER BY created_at DESC LIMIT $2`, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.OrderID, &n.Title, &n.Description, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repo) Unread(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE NOT read`).Scan(&n)
	return n, err
}

func (r *Repo) MarkRead(ctx context.Context, id string) error {
	tag, err := r.DB.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) MarkAllRead(ctx context.Context) (int64, error) {
	tag, err := r.DB.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE NOT read`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
