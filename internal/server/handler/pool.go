package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/orcbet/internal/blob/s3"
	"github.com/alanyoungcy/orcbet/internal/domain"
	"github.com/alanyoungcy/orcbet/internal/service"
)

// PoolHandler serves the pool lifecycle: creation, betting, resolution, and
// the read-side views (snapshots, ledgers, payouts, journal, reports).
type PoolHandler struct {
	svc     *service.BetService
	reports domain.BlobReader // nil when cold storage is disabled
	logger  *slog.Logger
}

// NewPoolHandler creates a PoolHandler. reports may be nil.
func NewPoolHandler(svc *service.BetService, reports domain.BlobReader, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		svc:     svc,
		reports: reports,
		logger:  logHandler(logger, "pool"),
	}
}

type poolView struct {
	ID         int64     `json:"id"`
	Feed       string    `json:"feed"`
	Threshold  string    `json:"threshold"`
	Deadline   time.Time `json:"deadline"`
	Active     bool      `json:"active"`
	TotalAbove string    `json:"total_above"`
	TotalBelow string    `json:"total_below"`
	Bettors    int       `json:"bettors"`
	CreatedAt  time.Time `json:"created_at"`
}

func toPoolView(info domain.PoolInfo) poolView {
	return poolView{
		ID:         info.ID,
		Feed:       info.Feed.Hex(),
		Threshold:  info.Threshold.String(),
		Deadline:   info.Deadline,
		Active:     info.Active,
		TotalAbove: info.TotalAbove.String(),
		TotalBelow: info.TotalBelow.String(),
		Bettors:    info.Bettors,
		CreatedAt:  info.CreatedAt,
	}
}

// ListPools returns pool snapshots in id order.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	infos := h.svc.ListPools(r.Context(), parseListOpts(r))

	views := make([]poolView, 0, len(infos))
	for _, info := range infos {
		views = append(views, toPoolView(info))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pools": views,
		"count": len(views),
	})
}

// CreatePool opens a new betting pool on a whitelisted feed.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feed      string    `json:"feed"`
		Threshold string    `json:"threshold"`
		Deadline  time.Time `json:"deadline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	feed, ok := parseAddress(req.Feed)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid feed address")
		return
	}
	threshold, ok := parseAmount(req.Threshold)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid threshold")
		return
	}

	info, err := h.svc.CreatePool(r.Context(), feed, threshold, req.Deadline)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("pool created",
		slog.Int64("pool_id", info.ID),
		slog.String("feed", info.Feed.Hex()),
	)
	writeJSON(w, http.StatusCreated, toPoolView(info))
}

// GetPool returns a single pool snapshot.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}

	info, err := h.svc.GetPool(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolView(info))
}

// PlaceBet stakes on one or both sides of a pool.
// POST /api/pools/{id}/bets
//
// The account address is client-asserted; the stake is pulled from that
// account through the value transferrer, which fails unless the account has
// approved the treasury.
func (h *PoolHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}

	var req struct {
		Account string `json:"account"`
		Above   string `json:"above"`
		Below   string `json:"below"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	account, ok := parseAddress(req.Account)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	above, ok := parseOptionalAmount(req.Above)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid above amount")
		return
	}
	below, ok := parseOptionalAmount(req.Below)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid below amount")
		return
	}

	ev, err := h.svc.PlaceBet(r.Context(), id, account, above, below)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"pool_id":     ev.PoolID,
		"account":     ev.Account.Hex(),
		"gross_above": ev.GrossAbove.String(),
		"gross_below": ev.GrossBelow.String(),
		"net_above":   ev.NetAbove.String(),
		"net_below":   ev.NetBelow.String(),
		"placed_at":   ev.PlacedAt,
	})
}

// Resolve settles a pool whose deadline has passed.
// POST /api/pools/{id}/resolve
//
// The caller address is client-asserted; the engine rejects any caller
// other than the configured resolver, so a forged caller gets a 403, not a
// settlement.
func (h *PoolHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}

	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	ev, err := h.svc.Resolve(r.Context(), id, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	payouts := make([]map[string]string, 0, len(ev.Payouts))
	for _, p := range ev.Payouts {
		payouts = append(payouts, map[string]string{
			"to":     p.To.Hex(),
			"amount": p.Amount.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pool_id":        ev.PoolID,
		"outcome":        ev.Outcome,
		"observed_value": ev.ObservedValue.String(),
		"observed_at":    ev.ObservedAt,
		"total_above":    ev.TotalAbove.String(),
		"total_below":    ev.TotalBelow.String(),
		"payouts":        payouts,
		"resolved_at":    ev.ResolvedAt,
	})
}

// GetStake returns an account's net position on a pool.
// GET /api/pools/{id}/stake?account=0x...
func (h *PoolHandler) GetStake(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}

	account, ok := parseAddress(r.URL.Query().Get("account"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	stake, err := h.svc.Stake(id, account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pool_id": id,
		"account": account.Hex(),
		"above":   stake.Above.String(),
		"below":   stake.Below.String(),
	})
}

// ListBets returns a pool's durable bet ledger.
// GET /api/pools/{id}/bets
func (h *PoolHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}

	bets, err := h.svc.ListBets(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(bets))
	for _, b := range bets {
		views = append(views, map[string]any{
			"account":     b.Account.Hex(),
			"gross_above": b.GrossAbove.String(),
			"gross_below": b.GrossBelow.String(),
			"net_above":   b.NetAbove.String(),
			"net_below":   b.NetBelow.String(),
			"placed_at":   b.PlacedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pool_id": id,
		"bets":    views,
		"count":   len(views),
	})
}

// ListPayouts returns a resolved pool's settlement transfers.
// GET /api/pools/{id}/payouts
func (h *PoolHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}

	payouts, err := h.svc.ListPayouts(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]map[string]string, 0, len(payouts))
	for _, p := range payouts {
		views = append(views, map[string]string{
			"account": p.Account.Hex(),
			"amount":  p.Amount.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pool_id": id,
		"payouts": views,
		"count":   len(views),
	})
}

// ListEvents returns a pool's journal entries.
// GET /api/pools/{id}/events
func (h *PoolHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := poolID(w, r)
	if !ok {
		return
	}

	events, err := h.svc.ListEvents(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		views = append(views, map[string]any{
			"id":         ev.ID,
			"type":       ev.Type,
			"payload":    json.RawMessage(ev.Payload),
			"created_at": ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pool_id": id,
		"events":  views,
		"count":   len(views),
	})
}

// GetReport streams the archived settlement report for a resolved pool.
// GET /api/pools/{id}/report
func (h *PoolHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "settlement archive is not configured")
		return
	}

	id, ok := poolID(w, r)
	if !ok {
		return
	}

	rec, err := h.svc.PoolRecord(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rec.ResolvedAt == nil {
		writeError(w, http.StatusConflict, "pool is not resolved")
		return
	}

	body, err := h.reports.Get(r.Context(), s3blob.SettlementPath(rec.ID, *rec.ResolvedAt))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "settlement report not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("streaming settlement report failed",
			slog.Int64("pool_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// poolID parses the {id} path parameter, writing a 400 response on failure.
func poolID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "invalid pool id")
		return 0, false
	}
	return id, true
}

// parseAddress validates and decodes a hex Ethereum address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseAmount decodes a positive decimal amount.
func parseAmount(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() <= 0 {
		return nil, false
	}
	return n, true
}

// parseOptionalAmount decodes a non-negative decimal amount, treating the
// empty string as zero.
func parseOptionalAmount(s string) (*big.Int, bool) {
	if s == "" {
		return new(big.Int), true
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// writeDomainError maps sentinel errors from the engine and the adapters to
// HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "pool not found")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotInitialized),
		errors.Is(err, domain.ErrAlreadyInitialized),
		errors.Is(err, domain.ErrPoolNotActive),
		errors.Is(err, domain.ErrPoolNotReady),
		errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnsupportedFeed),
		errors.Is(err, domain.ErrInvalidDeadline),
		errors.Is(err, domain.ErrBelowMinimumStake):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrTransferFailed):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrOracleUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
