// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"time"
)

// KeyValueStore is the expiring key-value storage behind conversation
// linking. A missing key reads as an empty value, not an error.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)

	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Pop returns the value and deletes the key atomically.
	Pop(ctx context.Context, key string) (string, error)

	// Expire resets the key's time to live.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
