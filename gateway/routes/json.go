package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"wagerchain/crypto"
	"wagerchain/native/wager"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
	Code  uint32 `json:"code,omitempty"`
}

type recordView struct {
	GameID      uint64  `json:"gameId"`
	White       string  `json:"white"`
	Black       *string `json:"black,omitempty"`
	WhiteAmount string  `json:"whiteAmount"`
	BlackAmount string  `json:"blackAmount"`
	Total       string  `json:"total"`
	Claimed     bool    `json:"claimed"`
	Outcome     string  `json:"outcome"`
	Winner      *string `json:"winner,omitempty"`
	CreatedAt   int64   `json:"createdAt"`
	UpdatedAt   int64   `json:"updatedAt"`
}

func newRecordView(r *wager.Record) recordView {
	view := recordView{
		GameID:      r.GameID,
		White:       r.White.String(),
		WhiteAmount: r.WhiteAmount.String(),
		BlackAmount: r.BlackAmount.String(),
		Total:       r.Total.String(),
		Claimed:     r.Claimed,
		Outcome:     r.Outcome.String(),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Black != nil {
		black := r.Black.String()
		view.Black = &black
	}
	if r.Winner != nil {
		winner := r.Winner.String()
		view.Winner = &winner
	}
	return view
}

type payoutView struct {
	Player string `json:"player"`
	Amount string `json:"amount"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func gameIDParam(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "gameID"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid game id %q", raw)
	}
	return id, nil
}

func parsePlayer(field, raw string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	if addr.IsZero() {
		return crypto.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}

// parseAmount accepts base-10 integer strings. Negative values are passed on
// so the engine reports its stable error code.
func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
