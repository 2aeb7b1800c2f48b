package redisx

import "time"

const (
	// Idempotent order submit: idem:order:create:{idempotency key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cached order view: order_status:{order_id} -> JSON of the public order
	KeyOrderStatus = "order_status:%s"

	// Processor notification already resolved to a terminal outcome:
	// webhook:mp:{payment_id} -> outcome status
	KeyWebhookPayment = "webhook:mp:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id or order_id)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLWebhook     = 72 * time.Hour
	TTLDedup       = 48 * time.Hour
)
