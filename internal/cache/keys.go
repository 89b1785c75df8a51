package cache

import "fmt"

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func IdempotencyInFlightKey(idempotencyKey string) string {
	return fmt.Sprintf("idem:inflight:%s", idempotencyKey)
}
