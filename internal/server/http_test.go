package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"liqengine/internal/asset"
	"liqengine/internal/engine"
	"liqengine/internal/executor"
	"liqengine/internal/ledger"
	"liqengine/internal/oracle"
	"liqengine/internal/server"
)

const (
	assetUSDC asset.ID = 1
	assetWETH asset.ID = 3
)

type apiFixture struct {
	t       *testing.T
	handler http.Handler
	book    *ledger.Book
	caller  uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	conv := oracle.NewConverter()
	conv.RegisterFeed("usdc-usd", assetUSDC, oracle.SlotPrimary)
	conv.RegisterFeed("weth-usd", assetWETH, oracle.SlotPrimary)
	for _, u := range []oracle.PriceUpdate{
		{Asset: assetUSDC, Payload: []byte(`{"price":"1"}`)},
		{Asset: assetWETH, Payload: []byte(`{"price":"12"}`)},
	} {
		if err := conv.ApplyUpdate(u); err != nil {
			t.Fatalf("seed price: %v", err)
		}
	}

	book := ledger.NewBook("margin-main", ledger.Params{
		DebtAsset:    assetUSDC,
		FeeRate:      150,
		DiscountRate: 9_600,
		MinDebt:      1_000,
	}, conv)
	registry := ledger.NewRegistry()
	registry.Register(book)

	eng, err := engine.New(engine.Config{FeeSink: uuid.New()}, engine.Deps{
		Registry:  registry,
		Converter: conv,
		Executor:  executor.NewSequencer(),
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	srv, err := server.New(":0", ":0", server.Deps{
		Engine: eng,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	caller := uuid.New()
	book.Credit(caller, assetUSDC, 1_000_000)

	return &apiFixture{t: t, handler: srv.Handler(), book: book, caller: caller}
}

func (f *apiFixture) openPosition(debt, wethCollateral int64) uuid.UUID {
	f.t.Helper()
	pos := uuid.New()
	if err := f.book.OpenPosition(pos, uuid.New(), debt); err != nil {
		f.t.Fatalf("open position: %v", err)
	}
	if err := f.book.DepositCollateral(pos, assetWETH, wethCollateral); err != nil {
		f.t.Fatalf("deposit collateral: %v", err)
	}
	return pos
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestAPI_ExactDebt(t *testing.T) {
	f := newAPIFixture(t)
	pos := f.openPosition(100_000, 8_000)

	body := `{
		"caller": "` + f.caller.String() + `",
		"position": "` + pos.String() + `",
		"seize_asset": "WETH",
		"repay_amount": 75000
	}`
	rec := f.do("POST", "/v1/liquidations/exact-debt", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Mode          string `json:"mode"`
		SeizedAmount  int64  `json:"seized_amount"`
		FeeAmount     int64  `json:"fee_amount"`
		DebtRemaining int64  `json:"debt_remaining"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Mode != "exact_debt" {
		t.Errorf("mode: got %s, want exact_debt", resp.Mode)
	}
	if resp.SeizedAmount != 6_412 {
		t.Errorf("seized: got %d, want 6412", resp.SeizedAmount)
	}
	if resp.FeeAmount != 1_125 {
		t.Errorf("fee: got %d, want 1125", resp.FeeAmount)
	}
	if resp.DebtRemaining != 26_125 {
		t.Errorf("debt remaining: got %d, want 26125", resp.DebtRemaining)
	}
}

func TestAPI_ExactCollateral(t *testing.T) {
	f := newAPIFixture(t)
	pos := f.openPosition(100_000, 8_000)

	body := `{
		"caller": "` + f.caller.String() + `",
		"position": "` + pos.String() + `",
		"seize_asset": "WETH",
		"seize_amount": 6412
	}`
	rec := f.do("POST", "/v1/liquidations/exact-collateral", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		RepaidAmount int64 `json:"repaid_amount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RepaidAmount != 74_990 {
		t.Errorf("repaid: got %d, want 74990", resp.RepaidAmount)
	}
}

func TestAPI_ErrorStatuses(t *testing.T) {
	f := newAPIFixture(t)
	healthy := f.openPosition(100_000, 15_000)

	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantKind   string
	}{
		{
			"not eligible",
			`{"caller":"` + f.caller.String() + `","position":"` + healthy.String() + `","seize_asset":"WETH","repay_amount":1000}`,
			http.StatusConflict, "eligibility",
		},
		{
			"unknown position",
			`{"caller":"` + f.caller.String() + `","position":"` + uuid.NewString() + `","seize_asset":"WETH","repay_amount":1000}`,
			http.StatusNotFound, "input",
		},
		{
			"unknown asset",
			`{"caller":"` + f.caller.String() + `","position":"` + healthy.String() + `","seize_asset":"DOGE","repay_amount":1000}`,
			http.StatusBadRequest, "input",
		},
		{
			"malformed json",
			`{"caller":`,
			http.StatusBadRequest, "input",
		},
	}
	for _, tc := range cases {
		rec := f.do("POST", "/v1/liquidations/exact-debt", tc.body)
		if rec.Code != tc.wantStatus {
			t.Errorf("%s: status got %d, want %d (body %s)", tc.name, rec.Code, tc.wantStatus, rec.Body.String())
			continue
		}
		var resp struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Errorf("%s: decode error body: %v", tc.name, err)
			continue
		}
		if resp.Kind != tc.wantKind {
			t.Errorf("%s: kind got %s, want %s", tc.name, resp.Kind, tc.wantKind)
		}
	}
}

func TestAPI_EngineConfig(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do("GET", "/v1/engine/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	var resp struct {
		MinHealthFactor int64  `json:"min_health_factor"`
		FeeMode         string `json:"fee_mode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.MinHealthFactor != 10_000 {
		t.Errorf("min health factor: got %d, want 10000", resp.MinHealthFactor)
	}
	if resp.FeeMode != "sweep" {
		t.Errorf("fee mode: got %s, want sweep", resp.FeeMode)
	}
}

func TestAPI_HistoryWithoutStore(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do("GET", "/v1/positions/"+uuid.NewString()+"/liquidations", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rec.Code)
	}
}
