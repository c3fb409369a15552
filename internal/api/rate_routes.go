package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"pesowatch/internal/analytics"
	"pesowatch/internal/storage"
	ratesync "pesowatch/internal/sync"
)

type rateDTO struct {
	Date        string           `json:"date"`
	USDPHPRate  decimal.Decimal  `json:"usd_php_rate"`
	DollarIndex *decimal.Decimal `json:"dollar_index,omitempty"`
	MA20        *decimal.Decimal `json:"ma20,omitempty"`
	MA50        *decimal.Decimal `json:"ma50,omitempty"`
	Synthetic   bool             `json:"synthetic,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

func toRateDTO(rec storage.RateRecord) rateDTO {
	return rateDTO{
		Date:        rec.Date.Format(storage.DateLayout),
		USDPHPRate:  rec.USDPHPRate,
		DollarIndex: rec.DollarIndex,
		MA20:        rec.MA20,
		MA50:        rec.MA50,
		Synthetic:   rec.Synthetic,
		CreatedAt:   rec.CreatedAt,
	}
}

func (s *Server) handleLatestRate(w http.ResponseWriter, r *http.Request) {
	rec, err := s.rates.Latest(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRateDTO(rec))
}

// handleRateHistory serves an inclusive date range of stored rates,
// optionally gap-filled to one record per calendar day (?fill=1). Defaults
// to the trailing 30 days.
func (s *Server) handleRateHistory(w http.ResponseWriter, r *http.Request) {
	to := storage.Day(time.Now().UTC())
	from := to.AddDate(0, 0, -30)

	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = parseDay(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = parseDay(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date")
			return
		}
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	records, err := s.rates.Between(r.Context(), from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if r.URL.Query().Get("fill") == "1" {
		seed, err := s.rates.EarlierThan(r.Context(), from)
		switch {
		case err == nil:
			records = append([]storage.RateRecord{seed}, records...)
		case storage.IsNoRows(err):
		default:
			s.writeDomainError(w, err)
			return
		}
		records = ratesync.FillGaps(records, from, to)
	}

	out := make([]rateDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toRateDTO(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRateStats(w http.ResponseWriter, r *http.Request) {
	to := storage.Day(time.Now().UTC())
	from := to.AddDate(0, 0, -30)

	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = parseDay(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = parseDay(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date")
			return
		}
	}

	records, err := s.rates.Between(r.Context(), from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	stats := analytics.SummarizeRates(records)
	writeJSON(w, http.StatusOK, map[string]any{
		"from":    from.Format(storage.DateLayout),
		"to":      to.Format(storage.DateLayout),
		"days":    len(records),
		"high":    stats.High,
		"low":     stats.Low,
		"average": stats.Average,
		"current": stats.Current,
		"change":  stats.Change,
	})
}

// --- sync routes ---

func (s *Server) handleSyncLatest(w http.ResponseWriter, r *http.Request) {
	if owner(r) == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := s.syncer.SyncLatest(r.Context()); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.syncer.Status())
}

func (s *Server) handleSyncRange(w http.ResponseWriter, r *http.Request) {
	if owner(r) == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body struct {
		From     string `json:"from"`
		To       string `json:"to"`
		FillGaps bool   `json:"fill_gaps"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	from, err := parseDay(body.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	to, err := parseDay(body.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	synced, err := s.syncer.SyncRange(r.Context(), from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	filled := 0
	if body.FillGaps {
		if filled, err = s.syncer.BackfillGaps(r.Context(), from, to); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]int{"synced": synced, "filled": filled})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.syncer.Status())
}
