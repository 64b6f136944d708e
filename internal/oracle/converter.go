package oracle

import (
	"fmt"
	"sync"
	"time"

	"liqengine/internal/asset"
	fpmath "liqengine/internal/math"
)

// PriceUpdate is a caller-supplied signed quote applied transiently before
// any computation in the same call.
type PriceUpdate struct {
	Asset   asset.ID `json:"asset"`
	Reserve bool     `json:"reserve"`
	Payload []byte   `json:"payload"`
}

type feedKey struct {
	asset asset.ID
	slot  Slot
}

// Converter is the price-conversion service: a feed registry plus the
// convert primitive every amount computation goes through.
type Converter struct {
	mu    sync.RWMutex
	feeds map[feedKey]*Feed
	clock func() time.Time
}

func NewConverter() *Converter {
	return &Converter{
		feeds: make(map[feedKey]*Feed),
		clock: time.Now,
	}
}

// WithClock overrides the converter clock for deterministic tests.
func (c *Converter) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
	for _, f := range c.feeds {
		f.clock = clock
	}
}

// RegisterFeed creates a feed for an (asset, slot) pair.
func (c *Converter) RegisterFeed(id string, assetID asset.ID, slot Slot) *Feed {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := &Feed{ID: id, clock: c.clock}
	c.feeds[feedKey{asset: assetID, slot: slot}] = f
	return f
}

// FeedFor resolves the registered feed for an (asset, slot) pair.
func (c *Converter) FeedFor(assetID asset.ID, reserve bool) (*Feed, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	slot := SlotPrimary
	if reserve {
		slot = SlotReserve
	}
	f, ok := c.feeds[feedKey{asset: assetID, slot: slot}]
	return f, ok
}

// ApplyUpdate pushes one quote into its named feed. A missing feed is fatal
// for the whole call: the caller named a feed that does not exist.
func (c *Converter) ApplyUpdate(u PriceUpdate) error {
	f, ok := c.FeedFor(u.Asset, u.Reserve)
	if !ok {
		return fmt.Errorf("%w: asset %s slot %s", ErrUnknownPriceFeed, u.Asset.Symbol(), boolToSlot(u.Reserve))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return f.Push(u.Payload)
}

// ApplyUpdates applies updates in order, stopping at the first failure.
func (c *Converter) ApplyUpdates(updates []PriceUpdate) error {
	for _, u := range updates {
		if err := c.ApplyUpdate(u); err != nil {
			return err
		}
	}
	return nil
}

// ApplyScoped applies updates and returns a restore function that puts
// every touched feed back to its prior quote. Call-scoped quotes influence
// the computation they ride on and nothing after it; stream quotes keep
// flowing through ApplyUpdate. On error no update remains applied and the
// returned restore is nil.
func (c *Converter) ApplyScoped(updates []PriceUpdate) (func(), error) {
	type prior struct {
		feed      *Feed
		price     int64
		updatedAt time.Time
	}
	var priors []prior

	restore := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i := len(priors) - 1; i >= 0; i-- {
			p := priors[i]
			p.feed.price = p.price
			p.feed.updatedAt = p.updatedAt
		}
	}

	for _, u := range updates {
		f, ok := c.FeedFor(u.Asset, u.Reserve)
		if !ok {
			restore()
			return nil, fmt.Errorf("%w: asset %s slot %s", ErrUnknownPriceFeed, u.Asset.Symbol(), boolToSlot(u.Reserve))
		}

		c.mu.Lock()
		priors = append(priors, prior{feed: f, price: f.price, updatedAt: f.updatedAt})
		err := f.Push(u.Payload)
		c.mu.Unlock()
		if err != nil {
			restore()
			return nil, err
		}
	}
	return restore, nil
}

// Convert translates an amount of fromAsset into toAsset units at current
// feed prices, truncating toward zero. The primary slot is authoritative;
// the reserve slot is consulted only when the primary has no price.
func (c *Converter) Convert(amount int64, from, to asset.ID) (int64, error) {
	if from == to {
		return amount, nil
	}

	fromPrice, err := c.priceOf(from)
	if err != nil {
		return 0, err
	}
	toPrice, err := c.priceOf(to)
	if err != nil {
		return 0, err
	}

	return fpmath.MulDivDown(amount, fromPrice, toPrice), nil
}

func (c *Converter) priceOf(assetID asset.ID) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if f, ok := c.feeds[feedKey{asset: assetID, slot: SlotPrimary}]; ok && f.price > 0 {
		return f.price, nil
	}
	if f, ok := c.feeds[feedKey{asset: assetID, slot: SlotReserve}]; ok && f.price > 0 {
		return f.price, nil
	}
	return 0, fmt.Errorf("no price available for asset %s", assetID.Symbol())
}

func boolToSlot(reserve bool) Slot {
	if reserve {
		return SlotReserve
	}
	return SlotPrimary
}
