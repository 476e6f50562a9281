// Package lock provides short-lived exclusive claims on billing work so
// that two routine runs never process the same account period together.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrEmptyKey   = errors.New("lock_key_empty")
	ErrInvalidTTL = errors.New("lock_ttl_must_be_positive")
)

type Locker interface {
	// TryLock claims key for ttl. ok is false when another holder owns it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release frees key when token still owns it.
	Release(ctx context.Context, key, token string) error
}

// BillingKey is the claim for one account and invoice period.
func BillingKey(accountID snowflake.ID, label string) string {
	return fmt.Sprintf("billing:%s:%s", accountID.String(), label)
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
