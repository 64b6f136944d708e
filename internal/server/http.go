package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	"liqengine/internal/asset"
	"liqengine/internal/engine"
	"liqengine/internal/event"
	"liqengine/internal/observability"
	"liqengine/internal/oracle"
	"liqengine/internal/query"
)

// api is the HTTP/JSON surface over the engine and the history reads.
type api struct {
	engine  *engine.Engine
	query   *query.Service
	events  chan<- event.Envelope
	log     zerolog.Logger
	metrics *observability.Metrics
}

func (a *api) register(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		name    string
		handler runtime.HandlerFunc
	}{
		{"POST", "/v1/liquidations/exact-debt", "liquidate_exact_debt", a.handleExactDebt},
		{"POST", "/v1/liquidations/exact-collateral", "liquidate_exact_collateral", a.handleExactCollateral},
		{"GET", "/v1/liquidations/{id}", "get_liquidation", a.handleGetLiquidation},
		{"GET", "/v1/positions/{position}/liquidations", "position_history", a.handlePositionHistory},
		{"GET", "/v1/callers/{caller}/liquidations", "caller_history", a.handleCallerHistory},
		{"GET", "/v1/ledgers/{ledger}/summary", "ledger_summary", a.handleLedgerSummary},
		{"GET", "/v1/ledgers/{ledger}/fees", "accrued_fees", a.handleAccruedFees},
		{"POST", "/v1/ledgers/{ledger}/fees/withdraw", "withdraw_fees", a.handleWithdrawFees},
		{"GET", "/v1/engine/config", "engine_config", a.handleConfig},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, a.instrument(r.name, r.handler)); err != nil {
			return fmt.Errorf("route %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

// instrument wraps a handler with request counting and latency metrics.
func (a *api) instrument(endpoint string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r, pathParams)
		if a.metrics != nil {
			a.metrics.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			a.metrics.HTTPDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ============================================================
// Liquidation endpoints
// ============================================================

type priceUpdateDTO struct {
	Asset   string          `json:"asset"`
	Reserve bool            `json:"reserve,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type liquidateDTO struct {
	Caller         string           `json:"caller"`
	Recipient      string           `json:"recipient,omitempty"`
	Position       string           `json:"position"`
	SeizeAsset     string           `json:"seize_asset"`
	RepayAmount    int64            `json:"repay_amount,omitempty"`
	MinSeizeAmount int64            `json:"min_seize_amount,omitempty"`
	SeizeAmount    int64            `json:"seize_amount,omitempty"`
	MaxRepayAmount int64            `json:"max_repay_amount,omitempty"`
	PriceUpdates   []priceUpdateDTO `json:"price_updates,omitempty"`
}

type liquidationResponse struct {
	ID            uuid.UUID `json:"id"`
	Ledger        string    `json:"ledger"`
	Position      uuid.UUID `json:"position"`
	Caller        uuid.UUID `json:"caller"`
	Recipient     uuid.UUID `json:"recipient"`
	Mode          string    `json:"mode"`
	SeizeAsset    string    `json:"seize_asset"`
	RepaidAmount  int64     `json:"repaid_amount"`
	DebtReduced   int64     `json:"debt_reduced"`
	SeizedAmount  int64     `json:"seized_amount"`
	FeeAmount     int64     `json:"fee_amount"`
	DebtRemaining int64     `json:"debt_remaining"`
	ExecutedAt    time.Time `json:"executed_at"`
}

func resultResponse(r *engine.Result) liquidationResponse {
	return liquidationResponse{
		ID:            r.ID,
		Ledger:        r.Ledger,
		Position:      r.Position,
		Caller:        r.Caller,
		Recipient:     r.Recipient,
		Mode:          r.Mode.String(),
		SeizeAsset:    r.SeizeAsset.Symbol(),
		RepaidAmount:  r.RepaidAmount,
		DebtReduced:   r.DebtReduced,
		SeizedAmount:  r.SeizedAmount,
		FeeAmount:     r.FeeAmount,
		DebtRemaining: r.DebtRemaining,
		ExecutedAt:    r.ExecutedAt,
	}
}

func (a *api) handleExactDebt(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var dto liquidateDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "input", fmt.Sprintf("decode request: %v", err))
		return
	}

	common, updates, err := dto.common()
	if err != nil {
		writeError(w, http.StatusBadRequest, "input", err.Error())
		return
	}

	res, err := a.engine.LiquidateExactDebt(r.Context(), engine.ExactDebtRequest{
		Caller:         common.caller,
		Recipient:      common.recipient,
		Position:       common.position,
		SeizeAsset:     common.seizeAsset,
		RepayAmount:    dto.RepayAmount,
		MinSeizeAmount: dto.MinSeizeAmount,
		PriceUpdates:   updates,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

func (a *api) handleExactCollateral(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var dto liquidateDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "input", fmt.Sprintf("decode request: %v", err))
		return
	}

	common, updates, err := dto.common()
	if err != nil {
		writeError(w, http.StatusBadRequest, "input", err.Error())
		return
	}

	res, err := a.engine.LiquidateExactCollateral(r.Context(), engine.ExactCollateralRequest{
		Caller:         common.caller,
		Recipient:      common.recipient,
		Position:       common.position,
		SeizeAsset:     common.seizeAsset,
		SeizeAmount:    dto.SeizeAmount,
		MaxRepayAmount: dto.MaxRepayAmount,
		PriceUpdates:   updates,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

type commonFields struct {
	caller     uuid.UUID
	recipient  uuid.UUID
	position   uuid.UUID
	seizeAsset asset.ID
}

func (dto *liquidateDTO) common() (commonFields, []oracle.PriceUpdate, error) {
	var c commonFields
	var err error

	if c.caller, err = uuid.Parse(dto.Caller); err != nil {
		return c, nil, fmt.Errorf("parse caller: %v", err)
	}
	if dto.Recipient != "" {
		if c.recipient, err = uuid.Parse(dto.Recipient); err != nil {
			return c, nil, fmt.Errorf("parse recipient: %v", err)
		}
	}
	if c.position, err = uuid.Parse(dto.Position); err != nil {
		return c, nil, fmt.Errorf("parse position: %v", err)
	}

	id, ok := asset.Lookup(dto.SeizeAsset)
	if !ok {
		return c, nil, fmt.Errorf("unknown seize asset %q", dto.SeizeAsset)
	}
	c.seizeAsset = id

	updates := make([]oracle.PriceUpdate, 0, len(dto.PriceUpdates))
	for _, u := range dto.PriceUpdates {
		assetID, ok := asset.Lookup(u.Asset)
		if !ok {
			return c, nil, fmt.Errorf("unknown price update asset %q", u.Asset)
		}
		updates = append(updates, oracle.PriceUpdate{
			Asset:   assetID,
			Reserve: u.Reserve,
			Payload: u.Payload,
		})
	}
	return c, updates, nil
}

// ============================================================
// History and admin endpoints
// ============================================================

func (a *api) handleGetLiquidation(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if a.query == nil {
		writeError(w, http.StatusServiceUnavailable, "collaborator", "history store not configured")
		return
	}
	id, err := uuid.Parse(pathParams["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "input", fmt.Sprintf("parse id: %v", err))
		return
	}

	rec, err := a.query.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, "collaborator", err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "input", "liquidation not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) handlePositionHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if a.query == nil {
		writeError(w, http.StatusServiceUnavailable, "collaborator", "history store not configured")
		return
	}
	position, err := uuid.Parse(pathParams["position"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "input", fmt.Sprintf("parse position: %v", err))
		return
	}

	records, err := a.query.PositionHistory(r.Context(), position, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusBadGateway, "collaborator", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"liquidations": records})
}

func (a *api) handleCallerHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if a.query == nil {
		writeError(w, http.StatusServiceUnavailable, "collaborator", "history store not configured")
		return
	}
	caller, err := uuid.Parse(pathParams["caller"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "input", fmt.Sprintf("parse caller: %v", err))
		return
	}

	records, err := a.query.CallerHistory(r.Context(), caller, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusBadGateway, "collaborator", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"liquidations": records})
}

func (a *api) handleLedgerSummary(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if a.query == nil {
		writeError(w, http.StatusServiceUnavailable, "collaborator", "history store not configured")
		return
	}
	summary, err := a.query.LedgerSummary(r.Context(), pathParams["ledger"])
	if err != nil {
		writeError(w, http.StatusBadGateway, "collaborator", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *api) handleAccruedFees(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	amount, err := a.engine.AccruedFees(pathParams["ledger"])
	if err != nil {
		writeError(w, http.StatusNotFound, "input", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ledger": pathParams["ledger"],
		"amount": amount,
	})
}

func (a *api) handleWithdrawFees(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var dto struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "input", fmt.Sprintf("decode request: %v", err))
		return
	}
	to, err := uuid.Parse(dto.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "input", fmt.Sprintf("parse to: %v", err))
		return
	}

	amount, err := a.engine.WithdrawFees(r.Context(), pathParams["ledger"], to)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if a.events != nil && amount > 0 {
		env, err := event.Wrap(&event.FeesWithdrawn{
			WithdrawalID: uuid.New(),
			LedgerID:     pathParams["ledger"],
			To:           to,
			Amount:       amount,
			WithdrawnAt:  time.Now().UTC(),
		})
		if err == nil {
			select {
			case a.events <- env:
			default:
				a.log.Warn().Str("ledger", pathParams["ledger"]).Msg("event buffer full, fee withdrawal event dropped")
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ledger":    pathParams["ledger"],
		"to":        to,
		"withdrawn": amount,
	})
}

func (a *api) handleConfig(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	cfg := a.engine.Config()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"min_health_factor":    cfg.MinHealthFactor,
		"max_health_factor":    cfg.MaxHealthFactor,
		"premium_scale_factor": cfg.PremiumScaleFactor,
		"fee_scale_factor":     cfg.FeeScaleFactor,
		"inline_health_floor":  cfg.InlineHealthFloor,
		"fee_mode":             cfg.FeeMode.String(),
		"repay_mode":           cfg.RepayMode.String(),
		"allowed_ledgers":      cfg.AllowedLedgers,
	})
}

// ============================================================
// Response helpers
// ============================================================

func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind})
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, engine.ErrUnknownPosition) {
		status = http.StatusNotFound
	} else {
		switch engine.Classify(err) {
		case engine.KindInput:
			status = http.StatusBadRequest
		case engine.KindEligibility, engine.KindBound, engine.KindPostCondition:
			status = http.StatusConflict
		}
	}
	writeError(w, status, engine.Classify(err).String(), err.Error())
}
