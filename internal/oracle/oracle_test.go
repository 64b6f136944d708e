package oracle_test

import (
	"errors"
	"testing"
	"time"

	"liqengine/internal/asset"
	fpmath "liqengine/internal/math"
	"liqengine/internal/oracle"
)

const (
	assetUSDC asset.ID = 1
	assetWETH asset.ID = 3
)

func quote(price string) []byte {
	return []byte(`{"price":"` + price + `"}`)
}

func newConverter(t *testing.T) *oracle.Converter {
	t.Helper()
	c := oracle.NewConverter()
	c.WithClock(func() time.Time { return time.UnixMicro(1_700_000_000_000_000) })
	c.RegisterFeed("usdc-usd", assetUSDC, oracle.SlotPrimary)
	c.RegisterFeed("weth-usd", assetWETH, oracle.SlotPrimary)
	return c
}

func TestApplyUpdate_UnknownFeed(t *testing.T) {
	c := newConverter(t)

	err := c.ApplyUpdate(oracle.PriceUpdate{Asset: 99, Payload: quote("1")})
	if !errors.Is(err, oracle.ErrUnknownPriceFeed) {
		t.Fatalf("got %v, want ErrUnknownPriceFeed", err)
	}
}

func TestApplyUpdate_UnknownReserveSlot(t *testing.T) {
	c := newConverter(t)

	// Primary feed registered, reserve slot is not
	err := c.ApplyUpdate(oracle.PriceUpdate{Asset: assetUSDC, Reserve: true, Payload: quote("1")})
	if !errors.Is(err, oracle.ErrUnknownPriceFeed) {
		t.Fatalf("got %v, want ErrUnknownPriceFeed", err)
	}
}

func TestApplyUpdate_StampsFeed(t *testing.T) {
	c := newConverter(t)

	if err := c.ApplyUpdate(oracle.PriceUpdate{Asset: assetUSDC, Payload: quote("1")}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	f, ok := c.FeedFor(assetUSDC, false)
	if !ok {
		t.Fatal("feed should exist")
	}
	price, at := f.Price()
	if price != fpmath.PriceScale {
		t.Errorf("price: got %d, want %d", price, fpmath.PriceScale)
	}
	if at != time.UnixMicro(1_700_000_000_000_000) {
		t.Errorf("timestamp not stamped by feed clock: %v", at)
	}
}

func TestApplyUpdate_RejectsBadPayload(t *testing.T) {
	c := newConverter(t)

	cases := [][]byte{
		[]byte(`not json`),
		quote("0"),
		quote("-5"),
	}
	for _, payload := range cases {
		if err := c.ApplyUpdate(oracle.PriceUpdate{Asset: assetUSDC, Payload: payload}); err == nil {
			t.Errorf("payload %q should be rejected", payload)
		}
	}
}

func TestConvert_PriceRatio(t *testing.T) {
	c := newConverter(t)

	mustApply(t, c, assetUSDC, quote("1"))
	mustApply(t, c, assetWETH, quote("12"))

	// 73_875 USDC -> WETH at 1:12 truncates 6156.25 to 6156
	got, err := c.Convert(73_875, assetUSDC, assetWETH)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got != 6_156 {
		t.Errorf("got %d, want 6156", got)
	}

	// Reverse direction
	got, err = c.Convert(6_156, assetWETH, assetUSDC)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got != 73_872 {
		t.Errorf("got %d, want 73872", got)
	}
}

func TestConvert_SameAssetIdentity(t *testing.T) {
	c := newConverter(t)
	got, err := c.Convert(42, assetUSDC, assetUSDC)
	if err != nil || got != 42 {
		t.Errorf("got (%d, %v), want (42, nil)", got, err)
	}
}

func TestConvert_NoPrice(t *testing.T) {
	c := newConverter(t)
	mustApply(t, c, assetUSDC, quote("1"))

	if _, err := c.Convert(100, assetUSDC, assetWETH); err == nil {
		t.Error("convert without WETH price should fail")
	}
}

func TestConvert_ReserveFallback(t *testing.T) {
	c := oracle.NewConverter()
	c.RegisterFeed("weth-usd-reserve", assetWETH, oracle.SlotReserve)
	c.RegisterFeed("usdc-usd", assetUSDC, oracle.SlotPrimary)

	mustApply(t, c, assetUSDC, quote("1"))
	if err := c.ApplyUpdate(oracle.PriceUpdate{Asset: assetWETH, Reserve: true, Payload: quote("10")}); err != nil {
		t.Fatalf("apply reserve: %v", err)
	}

	got, err := c.Convert(100, assetWETH, assetUSDC)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got != 1_000 {
		t.Errorf("got %d, want 1000", got)
	}
}

func TestApplyUpdates_StopsAtFirstFailure(t *testing.T) {
	c := newConverter(t)

	err := c.ApplyUpdates([]oracle.PriceUpdate{
		{Asset: assetUSDC, Payload: quote("2")},
		{Asset: 99, Payload: quote("1")},
	})
	if !errors.Is(err, oracle.ErrUnknownPriceFeed) {
		t.Fatalf("got %v, want ErrUnknownPriceFeed", err)
	}

	// First update must have taken effect (feed state mutates globally)
	f, _ := c.FeedFor(assetUSDC, false)
	price, _ := f.Price()
	if price != 2*fpmath.PriceScale {
		t.Errorf("first update should persist: got %d", price)
	}
}

func TestApplyScoped_RestoreRevertsFeeds(t *testing.T) {
	c := newConverter(t)
	mustApply(t, c, assetUSDC, quote("1"))
	mustApply(t, c, assetWETH, quote("12"))

	restore, err := c.ApplyScoped([]oracle.PriceUpdate{
		{Asset: assetWETH, Payload: quote("11.9")},
	})
	if err != nil {
		t.Fatalf("apply scoped: %v", err)
	}

	got, err := c.Convert(1_000, assetWETH, assetUSDC)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got != 11_900 {
		t.Errorf("scoped price not visible: got %d, want 11900", got)
	}

	restore()

	got, err = c.Convert(1_000, assetWETH, assetUSDC)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got != 12_000 {
		t.Errorf("prior price not restored: got %d, want 12000", got)
	}
}

func TestApplyScoped_FailureRevertsEarlierUpdates(t *testing.T) {
	c := newConverter(t)
	mustApply(t, c, assetUSDC, quote("1"))
	mustApply(t, c, assetWETH, quote("12"))

	_, err := c.ApplyScoped([]oracle.PriceUpdate{
		{Asset: assetWETH, Payload: quote("9")},
		{Asset: 99, Payload: quote("1")},
	})
	if !errors.Is(err, oracle.ErrUnknownPriceFeed) {
		t.Fatalf("got %v, want ErrUnknownPriceFeed", err)
	}

	// Unlike ApplyUpdates, a partial scoped batch must not leave the
	// first update behind.
	f, _ := c.FeedFor(assetWETH, false)
	price, _ := f.Price()
	if price != 12*fpmath.PriceScale {
		t.Errorf("partial batch leaked: got %d, want %d", price, 12*fpmath.PriceScale)
	}
}

func mustApply(t *testing.T, c *oracle.Converter, id asset.ID, payload []byte) {
	t.Helper()
	if err := c.ApplyUpdate(oracle.PriceUpdate{Asset: id, Payload: payload}); err != nil {
		t.Fatalf("apply update for %s: %v", id.Symbol(), err)
	}
}
