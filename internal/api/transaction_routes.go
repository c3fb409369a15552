package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"pesowatch/internal/analytics"
	"pesowatch/internal/storage"
)

type transactionDTO struct {
	ID         int64            `json:"id"`
	Date       string           `json:"date"`
	Type       string           `json:"type"`
	AmountUSD  decimal.Decimal  `json:"amount_usd"`
	Rate       decimal.Decimal  `json:"rate"`
	AmountPHP  decimal.Decimal  `json:"amount_php"`
	ProfitLoss *decimal.Decimal `json:"profit_loss,omitempty"`
	Notes      *string          `json:"notes,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

func toTransactionDTO(tx storage.Transaction) transactionDTO {
	return transactionDTO{
		ID:         tx.ID,
		Date:       tx.Date.Format(storage.DateLayout),
		Type:       tx.Type,
		AmountUSD:  tx.AmountUSD,
		Rate:       tx.Rate,
		AmountPHP:  tx.AmountPHP,
		ProfitLoss: tx.ProfitLoss,
		Notes:      tx.Notes,
		CreatedAt:  tx.CreatedAt,
	}
}

func decodeBody(r *http.Request, v any) error {
	defer io.Copy(io.Discard, r.Body) //nolint:errcheck
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.txs.ListByOwner(r.Context(), owner(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	out := make([]transactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionDTO(tx))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Date       string           `json:"date"`
		Type       string           `json:"type"`
		AmountUSD  decimal.Decimal  `json:"amount_usd"`
		Rate       decimal.Decimal  `json:"rate"`
		ProfitLoss *decimal.Decimal `json:"profit_loss"`
		Notes      *string          `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	day, err := parseDay(body.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	if body.Type != storage.TxBuy && body.Type != storage.TxSell {
		writeError(w, http.StatusBadRequest, "type must be BUY or SELL")
		return
	}
	if !body.AmountUSD.IsPositive() || !body.Rate.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount_usd and rate must be positive")
		return
	}

	tx := storage.Transaction{
		Date:       day,
		Type:       body.Type,
		AmountUSD:  body.AmountUSD,
		Rate:       body.Rate,
		ProfitLoss: body.ProfitLoss,
		Notes:      body.Notes,
	}

	inserted, err := s.txs.Insert(r.Context(), owner(r), tx)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(inserted))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	if err := s.txs.Delete(r.Context(), owner(r), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- analytics routes ---

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	txs, err := s.txs.ListByOwner(r.Context(), owner(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	summary := analytics.Summarize(txs)
	writeJSON(w, http.StatusOK, map[string]any{
		"total_bought":        summary.TotalBought,
		"total_sold":          summary.TotalSold,
		"average_buy_rate":    summary.AverageBuyRate,
		"average_sell_rate":   summary.AverageSellRate,
		"current_position":    summary.CurrentPosition,
		"realized_profit_php": summary.RealizedProfitPHP,
	})
}

func (s *Server) handleMonthlyVolume(w http.ResponseWriter, r *http.Request) {
	txs, err := s.txs.ListByOwner(r.Context(), owner(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	volumes := analytics.MonthlyVolume(txs)
	out := make([]map[string]any, 0, len(volumes))
	for _, v := range volumes {
		out = append(out, map[string]any{"month": v.Month, "volume": v.Volume})
	}
	writeJSON(w, http.StatusOK, out)
}
