package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/studiovoce/booking/libs/db"
)

// IdempotencyRecord is the stored outcome of a booking request submitted
// with an Idempotency-Key header. Replays get the recorded response back
// instead of a second insert attempt.
type IdempotencyRecord struct {
	Key             string
	EventID         string
	StatusCode      int
	ResponsePayload []byte
}

type IdempotencyRepo struct {
	pool *db.Pool
}

func NewIdempotencyRepo(pool *db.Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Claim registers the key if unseen. It returns claimed=true when this
// caller owns the key, otherwise the existing record (which may not be
// finalized yet if the original request is still in flight).
func (r *IdempotencyRepo) Claim(ctx context.Context, key string) (rec IdempotencyRecord, claimed bool, err error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (idempotency_key)
		VALUES ($1)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return IdempotencyRecord{Key: key}, true, nil
	}

	rec, err = r.get(ctx, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

// Finalize records the response for a claimed key. Rejected responses carry
// no event id, so the empty string is stored as NULL.
func (r *IdempotencyRepo) Finalize(ctx context.Context, key, eventID string, statusCode int, response []byte) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET event_id = $2,
			status_code = $3,
			response_payload = $4,
			updated_at = now()
		WHERE idempotency_key = $1
	`, key, nullableUUID(eventID), statusCode, response)
	return err
}

func nullableUUID(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *IdempotencyRepo) get(ctx context.Context, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := r.pool.QueryRow(ctx, `
		SELECT idempotency_key,
			COALESCE(event_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE idempotency_key = $1
	`, key).Scan(&rec.Key, &rec.EventID, &rec.StatusCode, &responseText)
	if errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, err
	}
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
