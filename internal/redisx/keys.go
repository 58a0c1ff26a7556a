package redisx

import "time"

const (
	// Checkout idempotency: idem:checkout:{token} -> "pending" | "done:{order_id}"
	KeyCheckout = "idem:checkout:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "paymentStatus": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Low-stock alert window: lowstock:{product_id}
	KeyLowStock = "lowstock:%s"
)

var (
	TTLCheckoutPending = 30 * time.Minute
	TTLIdempotency     = 24 * time.Hour
	TTLStatusCache     = 5 * time.Minute
	TTLDedup           = 48 * time.Hour
	TTLLowStock        = 24 * time.Hour
)
