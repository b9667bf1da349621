package idempotency

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Claim records a provider event id in the webhook inbox. It must run
// inside the same transaction as the side effects the event triggers, so
// a crash before commit leaves the claim unrecorded and the provider's
// redelivery processes cleanly.
//
// Returns false when the event id was already claimed, i.e. this
// delivery is a duplicate and must produce no side effects.
func Claim(ctx context.Context, tx pgx.Tx, eventID string) (bool, error) {
	ct, err := tx.Exec(ctx,
		`INSERT INTO webhook_inbox(event_id, received_at) VALUES ($1, now())
		 ON CONFLICT (event_id) DO NOTHING`, eventID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
