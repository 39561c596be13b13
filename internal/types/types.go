package types

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// GasReading is one snapshot of the gas oracle, in gwei.
type GasReading struct {
	Low       decimal.Decimal `json:"low"`
	Average   decimal.Decimal `json:"average"`
	High      decimal.Decimal `json:"high"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// IsZero reports whether the reading was never filled in.
func (r GasReading) IsZero() bool {
	return r.FetchedAt.IsZero()
}

// AlertState remembers which side of the band the last alert was sent for.
type AlertState string

const (
	StateNone      AlertState = "none"
	StateBelowLow  AlertState = "below_low"
	StateAboveHigh AlertState = "above_high"
)

type AlertKind string

const (
	AlertLow  AlertKind = "low"
	AlertHigh AlertKind = "high"
)

// Thresholds is a [Low, High] band in gwei.
type Thresholds struct {
	Low  decimal.Decimal `json:"low"`
	High decimal.Decimal `json:"high"`
}

// NewThresholds validates 0 < low < high.
func NewThresholds(low, high decimal.Decimal) (Thresholds, error) {
	if !low.IsPositive() {
		return Thresholds{}, &ValidationError{Field: "low", Reason: "must be greater than zero"}
	}
	if !low.LessThan(high) {
		return Thresholds{}, &ValidationError{Field: "high", Reason: "must be greater than low"}
	}
	return Thresholds{Low: low, High: high}, nil
}

// ParseThresholds parses both values and validates them like NewThresholds.
func ParseThresholds(low, high string) (Thresholds, error) {
	l, err := decimal.NewFromString(low)
	if err != nil {
		return Thresholds{}, &ValidationError{Field: "low", Reason: "not a number"}
	}
	h, err := decimal.NewFromString(high)
	if err != nil {
		return Thresholds{}, &ValidationError{Field: "high", Reason: "not a number"}
	}
	return NewThresholds(l, h)
}

// MustThresholds is for defaults and tests.
func MustThresholds(low, high string) Thresholds {
	t, err := ParseThresholds(low, high)
	if err != nil {
		panic(errors.Wrapf(err, "invalid thresholds %s/%s", low, high))
	}
	return t
}

// Subscriber is a chat receiving threshold alerts. A NULL Low or High means
// the chat never customized it and the configured default applies.
type Subscriber struct {
	ChatID    int64               `json:"chat_id"`
	Low       decimal.NullDecimal `json:"low"`
	High      decimal.NullDecimal `json:"high"`
	State     AlertState          `json:"state"`
	CreatedAt time.Time           `json:"created_at"`
}

// Effective resolves the subscriber's band against the defaults.
func (s Subscriber) Effective(defaults Thresholds) Thresholds {
	t := defaults
	if s.Low.Valid {
		t.Low = s.Low.Decimal
	}
	if s.High.Valid {
		t.High = s.High.Decimal
	}
	return t
}

// Customized reports whether the chat has set its own low or high threshold.
func (s Subscriber) Customized() bool {
	return s.Low.Valid || s.High.Valid
}
