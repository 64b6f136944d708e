package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	fpmath "liqengine/internal/math"

	"github.com/shopspring/decimal"
)

// ErrUnknownPriceFeed is returned when a price update names an (asset, slot)
// pair with no registered feed. Caller input error, never retried internally.
var ErrUnknownPriceFeed = errors.New("unknown price feed")

// Slot distinguishes an asset's primary feed from its reserve fallback.
type Slot uint8

const (
	SlotPrimary Slot = iota
	SlotReserve
)

func (s Slot) String() string {
	if s == SlotReserve {
		return "reserve"
	}
	return "primary"
}

// Feed holds the latest price pushed for one (asset, slot) pair.
// Prices are fixed-point at fpmath.PriceScale in the common numeraire.
type Feed struct {
	ID        string
	price     int64
	updatedAt time.Time
	clock     func() time.Time
}

// quotePayload is the wire shape of a signed quote's opaque payload.
// Signature verification happens upstream; the feed only decodes the price.
type quotePayload struct {
	Price decimal.Decimal `json:"price"`
}

// Push decodes a quote payload into the feed and stamps it with the feed's
// own clock. The mutation is globally visible to every subsequent read.
func (f *Feed) Push(payload []byte) error {
	var q quotePayload
	if err := json.Unmarshal(payload, &q); err != nil {
		return fmt.Errorf("decode quote payload for feed %s: %w", f.ID, err)
	}
	if q.Price.Sign() <= 0 {
		return fmt.Errorf("feed %s: quote price must be positive, got %s", f.ID, q.Price)
	}

	scaled := q.Price.Mul(decimal.NewFromInt(fpmath.PriceScale))
	if !scaled.IsInteger() {
		scaled = scaled.Truncate(0)
	}
	if scaled.BigInt().BitLen() > 62 {
		return fmt.Errorf("feed %s: quote price out of range: %s", f.ID, q.Price)
	}

	f.price = scaled.IntPart()
	f.updatedAt = f.clock()
	return nil
}

// Price returns the latest price and its timestamp. A zero price means the
// feed has never been pushed.
func (f *Feed) Price() (int64, time.Time) {
	return f.price, f.updatedAt
}
