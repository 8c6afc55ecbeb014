package repository

import (
	"context"
)

const recordWebhookDelivery = `
INSERT INTO webhook_deliveries (event_id, event_type)
VALUES ($1, $2)
ON CONFLICT (event_id) DO NOTHING
`

// RecordWebhookDelivery marks a processor event id as processed. Returns
// false when the event id was already recorded, which signals a redelivery
// that must be acknowledged without re-applying.
func (q *Queries) RecordWebhookDelivery(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := q.db.Exec(ctx, recordWebhookDelivery, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const deleteWebhookDelivery = `
DELETE FROM webhook_deliveries WHERE event_id = $1
`

// DeleteWebhookDelivery removes a recorded event id. Used when applying the
// event failed after the id was recorded, so the processor's retry is not
// mistaken for a replay.
func (q *Queries) DeleteWebhookDelivery(ctx context.Context, eventID string) error {
	_, err := q.db.Exec(ctx, deleteWebhookDelivery, eventID)
	return err
}

const pruneWebhookDeliveries = `
DELETE FROM webhook_deliveries WHERE received_at < now() - ($1 * interval '1 day')
`

// PruneWebhookDeliveries deletes dedup records older than the retention
// window. Processors stop retrying well inside that window, so old ids are
// safe to drop.
func (q *Queries) PruneWebhookDeliveries(ctx context.Context, retentionDays int32) (int64, error) {
	tag, err := q.db.Exec(ctx, pruneWebhookDeliveries, retentionDays)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
