package routes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"wagerchain/core/arbiter"
	"wagerchain/core/audit"
	"wagerchain/crypto"
	"wagerchain/gateway/middleware"
	"wagerchain/native/bank"
	nativecommon "wagerchain/native/common"
	"wagerchain/native/wager"
)

// HistorySource returns the audit trail for a game and the latest events
// across all games.
type HistorySource interface {
	History(ctx context.Context, gameID uint64) ([]audit.Entry, error)
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// OperationObserver records the outcome of each escrow operation.
type OperationObserver interface {
	Observe(op string, code uint32, err error)
}

type wagerRoutes struct {
	arbiter  *arbiter.Arbiter
	history  HistorySource
	pauses   *nativecommon.Pauses
	observer OperationObserver
	logger   *slog.Logger
}

type openRequest struct {
	GameID uint64 `json:"gameId"`
	Player string `json:"player"`
	Amount string `json:"amount"`
}

type joinRequest struct {
	Player string `json:"player"`
	Amount string `json:"amount"`
}

type releaseRequest struct {
	Winner string `json:"winner"`
}

type depositRequest struct {
	Amount string `json:"amount"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type settlementResponse struct {
	GameID  uint64       `json:"gameId"`
	Outcome string       `json:"outcome"`
	Total   string       `json:"total"`
	Receipt string       `json:"receipt"`
	Payouts []payoutView `json:"payouts"`
}

type historyEntryView struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  string            `json:"createdAt"`
}

func (wr *wagerRoutes) mountPublic(r chi.Router) {
	r.Get("/games", wr.listGames)
	r.Get("/games/{gameID}", wr.getGame)
	r.Get("/games/{gameID}/total", wr.getTotal)
	r.Get("/games/{gameID}/claimed", wr.getClaimed)
	r.Get("/games/{gameID}/receipt", wr.getReceipt)
	r.Get("/games/{gameID}/history", wr.getHistory)
	r.Get("/history/recent", wr.getRecentHistory)
	r.Get("/balances/{address}", wr.getBalance)
}

func (wr *wagerRoutes) mountWrite(r chi.Router) {
	r.Post("/games", wr.openGame)
	r.Post("/games/{gameID}/join", wr.joinGame)
	r.Post("/games/{gameID}/release", wr.releaseGame)
	r.Post("/games/{gameID}/refund", wr.refundGame)
}

func (wr *wagerRoutes) mountAdmin(r chi.Router) {
	r.Post("/balances/{address}/deposit", wr.deposit)
	r.Post("/admin/pause", wr.setPause)
}

func (wr *wagerRoutes) openGame(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	player, err := parsePlayer("player", req.Player)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	err = wr.arbiter.Open(req.GameID, player, amount)
	wr.observe("initialize", err)
	if err != nil {
		wr.writeEngineError(w, r, err)
		return
	}
	wr.writeRecord(w, r, req.GameID, http.StatusCreated)
}

func (wr *wagerRoutes) joinGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req joinRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	player, err := parsePlayer("player", req.Player)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	err = wr.arbiter.Join(gameID, player, amount)
	wr.observe("join", err)
	if err != nil {
		wr.writeEngineError(w, r, err)
		return
	}
	wr.writeRecord(w, r, gameID, http.StatusOK)
}

func (wr *wagerRoutes) releaseGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req releaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	winner, err := parsePlayer("winner", req.Winner)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	receipt, err := wr.arbiter.Settle(gameID, winner)
	wr.observe("release", err)
	wr.writeSettlement(w, r, receipt, err)
}

func (wr *wagerRoutes) refundGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	receipt, err := wr.arbiter.Abandon(gameID)
	wr.observe("refund", err)
	wr.writeSettlement(w, r, receipt, err)
}

func (wr *wagerRoutes) listGames(w http.ResponseWriter, r *http.Request) {
	status, err := wager.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	records, err := wr.arbiter.Engine().List(status)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, newRecordView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"games": views})
}

func (wr *wagerRoutes) getGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	wr.writeRecord(w, r, gameID, http.StatusOK)
}

func (wr *wagerRoutes) getTotal(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	total, err := wr.arbiter.Engine().TotalLocked(gameID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"gameId": gameID, "total": total.String()})
}

func (wr *wagerRoutes) getClaimed(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	claimed, err := wr.arbiter.Engine().IsClaimed(gameID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"gameId": gameID, "claimed": claimed})
}

func (wr *wagerRoutes) getReceipt(w http.ResponseWriter, r *http.Request) {
	gameID, err := gameIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	receipt, ok, err := wr.arbiter.Receipt(gameID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "receipt not found"})
		return
	}
	writeJSON(w, http.StatusOK, newSettlementResponse(receipt))
}

func (wr *wagerRoutes) getHistory(w http.ResponseWriter, r *http.Request) {
	if wr.history == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "audit trail disabled"})
		return
	}
	gameID, err := gameIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	entries, err := wr.history.History(r.Context(), gameID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	views, err := newHistoryViews(entries)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"gameId": gameID, "events": views})
}

// getRecentHistory lists the newest audit events across all games. limit
// defaults to 100 and is capped at 1000.
func (wr *wagerRoutes) getRecentHistory(w http.ResponseWriter, r *http.Request) {
	if wr.history == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "audit trail disabled"})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	entries, err := wr.history.Recent(r.Context(), limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	views, err := newHistoryViews(entries)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": views})
}

func newHistoryViews(entries []audit.Entry) ([]historyEntryView, error) {
	views := make([]historyEntryView, 0, len(entries))
	for _, entry := range entries {
		attrs, err := entry.Decode()
		if err != nil {
			return nil, err
		}
		views = append(views, historyEntryView{
			ID:         entry.ID.String(),
			Sequence:   entry.Sequence,
			Type:       entry.Type,
			Attributes: attrs,
			CreatedAt:  entry.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return views, nil
}

func (wr *wagerRoutes) getBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := wr.arbiter.Vault().Balance(addr)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr.String(), "balance": balance.String()})
}

func (wr *wagerRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	addr, err := parsePlayer("address", chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeBadRequest(w, errors.New("amount must be a positive integer"))
		return
	}
	balance, err := wr.arbiter.Vault().Deposit(addr, amount)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	wr.logger.Info("balance deposited",
		"player", addr.String(),
		"amount", amount.String(),
		"subject", middleware.Subject(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{"address": addr.String(), "balance": balance.String()})
}

func (wr *wagerRoutes) setPause(w http.ResponseWriter, r *http.Request) {
	if wr.pauses == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "pausing not configured"})
		return
	}
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	wr.pauses.Set(wager.ModuleName, req.Paused)
	wr.logger.Warn("wager module pause toggled",
		"paused", req.Paused,
		"subject", middleware.Subject(r.Context()))
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

func (wr *wagerRoutes) writeRecord(w http.ResponseWriter, r *http.Request, gameID uint64, status int) {
	rec, ok, err := wr.arbiter.Engine().Record(gameID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "game not found"})
		return
	}
	writeJSON(w, status, newRecordView(rec))
}

func (wr *wagerRoutes) writeSettlement(w http.ResponseWriter, r *http.Request, receipt *arbiter.Receipt, err error) {
	if err != nil && !errors.Is(err, arbiter.ErrPayoutFailed) {
		wr.writeEngineError(w, r, err)
		return
	}
	if err != nil {
		wr.logger.Error("settlement recorded but payout incomplete",
			"gameId", receipt.GameID,
			"error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":      err.Error(),
			"settlement": newSettlementResponse(receipt),
		})
		return
	}
	writeJSON(w, http.StatusOK, newSettlementResponse(receipt))
}

func (wr *wagerRoutes) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if code, ok := wager.CodeOf(err); ok {
		writeJSON(w, statusForCode(code), errorResponse{Error: err.Error(), Code: code})
		return
	}
	switch {
	case errors.Is(err, bank.ErrInsufficientBalance):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, nativecommon.ErrModulePaused):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		wr.logger.Error("wager operation failed", "path", r.URL.Path, "error", err)
		writeInternalError(w, errors.New("internal error"))
	}
}

func (wr *wagerRoutes) observe(op string, err error) {
	if wr.observer == nil {
		return
	}
	code, _ := wager.CodeOf(err)
	wr.observer.Observe(op, code, err)
}

func statusForCode(code uint32) int {
	switch code {
	case wager.CodeGameNotFound:
		return http.StatusNotFound
	case wager.CodeAlreadyClaimed, wager.CodeGameExists, wager.CodeAlreadyJoined:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func newSettlementResponse(receipt *arbiter.Receipt) settlementResponse {
	resp := settlementResponse{
		GameID:  receipt.GameID,
		Outcome: receipt.Outcome,
		Total:   receipt.Total().String(),
		Receipt: receipt.IDHex(),
		Payouts: make([]payoutView, 0, len(receipt.Payouts)),
	}
	for _, payout := range receipt.Payouts {
		resp.Payouts = append(resp.Payouts, payoutView{
			Player: payout.Player.String(),
			Amount: payout.Amount.String(),
		})
	}
	return resp
}
