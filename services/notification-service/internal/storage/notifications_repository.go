package storage

import (
	"context"
	"encoding/json"

	"github.com/studiovoce/booking/libs/db"
)

// Notification is the delivery record kept for every event the service
// consumed, whether or not an email went out.
type Notification struct {
	EventID   string
	EventType string
	Recipient string
	Payload   map[string]any
	Status    string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (event_id, event_type, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5)
	`, n.EventID, n.EventType, n.Recipient, payload, n.Status)
	return err
}
