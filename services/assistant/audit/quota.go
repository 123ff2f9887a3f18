// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// quotaConflictRetries bounds the optimistic-concurrency retry loop when
// concurrent requests race on the same tenant's daily counter.
const quotaConflictRetries = 8

// QuotaExceededError is returned by IncrementAndCheck when the tenant has
// used up its daily allowance. It carries what the 429 body needs.
type QuotaExceededError struct {
	Limit    int
	Used     int
	ResetsAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily quota exceeded: %d of %d used, resets at %s",
		e.Used, e.Limit, e.ResetsAt.Format(time.RFC3339))
}

// IsQuotaExceeded reports whether err is a quota rejection and returns
// the typed error for the handler.
func IsQuotaExceeded(err error) (*QuotaExceededError, bool) {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// IncrementAndCheck atomically increments the tenant's counter for the
// current UTC day and checks it against limit.
//
// # Description
//
// The counter is the authoritative daily cap: it survives restarts, which
// the in-process burst limiter does not. The increment runs in a Badger
// read-modify-write transaction; on commit conflict (two requests racing
// on the same counter) it retries with a fresh read, so no request is
// ever double-counted.
//
// The counter key rolls over at UTC midnight. Keys for past days are left
// to expire with the store's retention job; they are never read again.
//
// # Inputs
//
//   - ctx: Cancellation control.
//   - tenantID: The tenant whose counter to bump.
//   - limit: The tenant's daily allowance (from its tier).
//   - now: The current time; injected for testability.
//
// # Outputs
//
//   - int: The used count after this request (on success, includes it).
//   - error: *QuotaExceededError when the counter is already at or above
//     limit; the increment is not applied in that case.
func (s *Store) IncrementAndCheck(ctx context.Context, tenantID string, limit int, now time.Time) (int, error) {
	if tenantID == "" {
		return 0, errors.New("tenant id is required")
	}
	day := now.UTC()
	key := quotaKey(tenantID, day)

	var used int
	for attempt := 0; attempt < quotaConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("context cancelled: %w", err)
		}

		txn := s.db.NewTransaction(true)
		current, err := readCounter(txn, key)
		if err != nil {
			txn.Discard()
			return 0, err
		}
		if current >= limit {
			txn.Discard()
			return current, &QuotaExceededError{
				Limit:    limit,
				Used:     current,
				ResetsAt: nextUTCMidnight(day),
			}
		}

		used = current + 1
		if err := txn.Set(key, []byte(strconv.Itoa(used))); err != nil {
			txn.Discard()
			return 0, fmt.Errorf("write quota counter: %w", err)
		}
		err = txn.Commit()
		if err == nil {
			return used, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return 0, fmt.Errorf("commit quota counter: %w", err)
		}
	}
	return 0, fmt.Errorf("quota counter for tenant %s: too many commit conflicts", tenantID)
}

// Usage returns the tenant's used count for the current UTC day without
// incrementing. Backs the GET /v1/usage quota report.
func (s *Store) Usage(ctx context.Context, tenantID string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}
	var used int
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		used, err = readCounter(txn, quotaKey(tenantID, now.UTC()))
		return err
	})
	return used, err
}

func readCounter(txn *badger.Txn, key []byte) (int, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota counter: %w", err)
	}
	var value int
	err = item.Value(func(val []byte) error {
		parsed, parseErr := strconv.Atoi(string(val))
		if parseErr != nil {
			return fmt.Errorf("corrupt quota counter %q: %w", string(val), parseErr)
		}
		value = parsed
		return nil
	})
	return value, err
}

func quotaKey(tenantID string, day time.Time) []byte {
	return []byte(quotaPrefix + tenantID + "/" + day.Format("2006-01-02"))
}

// nextUTCMidnight returns the start of the next UTC day, when the quota
// counter rolls over.
func nextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	year, month, dayOfMonth := now.Date()
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
