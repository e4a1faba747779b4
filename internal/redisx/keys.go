package redisx

import "time"

const (
	// Idempotency checkout: idem:order:create:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cache status order: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Shopper cart: cart:{customer_id} -> JSON list of cart items
	KeyCart = "cart:%s"

	// Cart mutation lock: lock:cart:{customer_id}
	KeyCartLock = "lock:cart:%s"

	// Checkout form draft: hash checkout:draft:{customer_id}
	KeyCheckoutDraft = "checkout:draft:%s"

	// Sorted set of customer ids scored by last cart change (unix seconds).
	KeyCartsTouched = "carts:touched"

	// Pub/Sub channel carrying product snapshots.
	ChannelCatalog = "catalog:changes"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLCartLock    = 10 * time.Second
	TTLDraft       = 7 * 24 * time.Hour
)
