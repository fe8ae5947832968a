// Package fx converts amounts between currencies using dated rates.
package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidRate indicates a stored rate that cannot be used for conversion.
var ErrInvalidRate = errors.New("fx: invalid rate")

// MissingRateError reports a currency pair without any rate on or before a date.
type MissingRateError struct {
	From string
	To   string
	On   time.Time
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("fx: no rate for %s/%s on %s", e.From, e.To, e.On.Format(time.DateOnly))
}

// Rate is the number of To units bought by one From unit on a date.
type Rate struct {
	From string
	To   string
	Date time.Time
	Rate decimal.Decimal
}

// RateStore loads the latest rate effective on a date.
type RateStore interface {
	LatestRate(ctx context.Context, from, to string, on time.Time) (Rate, bool, error)
}

// RateCache keeps resolved rates between lookups.
type RateCache interface {
	Get(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, bool, error)
	Set(ctx context.Context, from, to string, on time.Time, rate decimal.Decimal) error
}

// Service resolves rates through the cache and store and converts amounts.
type Service struct {
	store RateStore
	cache RateCache
	group singleflight.Group
}

// NewService constructs a Service. cache may be nil.
func NewService(store RateStore, cache RateCache) *Service {
	return &Service{store: store, cache: cache}
}

// Convert expresses amount, held in from, in the to currency using the rate
// effective on the given date. The result is not rounded.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string, on time.Time) (decimal.Decimal, error) {
	from, to = normalize(from), normalize(to)
	if from == to || amount.IsZero() {
		return amount, nil
	}
	rate, err := s.Rate(ctx, from, to, on)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}

// Rate returns the conversion factor from 'from' to 'to' on the date. A missing
// direct quote falls back to the inverse of the opposite pair.
func (s *Service) Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error) {
	if s == nil || s.store == nil {
		return decimal.Zero, errors.New("fx: rate store not configured")
	}
	from, to = normalize(from), normalize(to)
	day := time.Date(on.Year(), on.Month(), on.Day(), 0, 0, 0, 0, time.UTC)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if s.cache != nil {
		if rate, ok, err := s.cache.Get(ctx, from, to, day); err == nil && ok {
			return rate, nil
		}
	}

	key := from + "/" + to + "@" + day.Format(time.DateOnly)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.resolve(ctx, from, to, day)
	})
	select {
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	}
}

func (s *Service) resolve(ctx context.Context, from, to string, day time.Time) (decimal.Decimal, error) {
	rate, err := s.lookup(ctx, from, to, day)
	if err != nil {
		return decimal.Zero, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, from, to, day, rate)
	}
	return rate, nil
}

func (s *Service) lookup(ctx context.Context, from, to string, day time.Time) (decimal.Decimal, error) {
	direct, ok, err := s.store.LatestRate(ctx, from, to, day)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fx: load %s/%s: %w", from, to, err)
	}
	if ok {
		if !direct.Rate.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrInvalidRate, from, to)
		}
		return direct.Rate, nil
	}
	inverse, ok, err := s.store.LatestRate(ctx, to, from, day)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fx: load %s/%s: %w", to, from, err)
	}
	if !ok {
		return decimal.Zero, &MissingRateError{From: from, To: to, On: day}
	}
	if !inverse.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrInvalidRate, to, from)
	}
	return decimal.NewFromInt(1).DivRound(inverse.Rate, 12), nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
