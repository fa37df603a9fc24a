// Package bucket holds the fixed-window counter stores behind the rate
// limiter. Counters are independently keyed, so concurrent principals never
// contend on each other's budgets.
package bucket

import (
	"context"
	"time"

	"edushield/internal/ratelimit/models"
)

// Store is the counter backend. Allow consumes one request from the key's
// budget; Status reads the bucket without consuming.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
	Status(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
	Reset(ctx context.Context, key string) error
}
