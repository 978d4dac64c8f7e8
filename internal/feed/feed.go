package feed

import (
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// Observation is one item from a price feed: either a bare tick or a full
// bar. Bar is nil for tick-only sources.
type Observation struct {
	Time  time.Time
	Price decimal.Decimal
	Bar   *core.Bar
}

// Feed streams observations in time order. Next returns io.EOF when the
// source is exhausted; live sources block until the next observation.
type Feed interface {
	Next() (Observation, error)
	Close() error
}

// Prepend returns a feed that replays obs first and then delegates to inner.
// Used after peeking the first observation for position sizing.
func Prepend(obs Observation, inner Feed) Feed {
	return &prependFeed{head: &obs, inner: inner}
}

type prependFeed struct {
	head  *Observation
	inner Feed
}

func (f *prependFeed) Next() (Observation, error) {
	if f.head != nil {
		obs := *f.head
		f.head = nil
		return obs, nil
	}
	return f.inner.Next()
}

func (f *prependFeed) Close() error { return f.inner.Close() }
