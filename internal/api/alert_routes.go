package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"pesowatch/internal/analytics"
	"pesowatch/internal/storage"
)

type alertDTO struct {
	ID         int64           `json:"id"`
	TargetRate decimal.Decimal `json:"target_rate"`
	Direction  string          `json:"direction"`
	IsActive   bool            `json:"is_active"`
	Triggered  bool            `json:"triggered"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.alerts.ListByOwner(r.Context(), owner(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	// triggered state is a display-time comparison against the latest rate;
	// missing rate history just means nothing triggers
	var latest decimal.Decimal
	if rec, err := s.rates.Latest(r.Context()); err == nil {
		latest = rec.USDPHPRate
	} else if !storage.IsNoRows(err) {
		s.writeDomainError(w, err)
		return
	}

	out := make([]alertDTO, 0, len(alerts))
	for _, alert := range alerts {
		out = append(out, alertDTO{
			ID:         alert.ID,
			TargetRate: alert.TargetRate,
			Direction:  alert.Direction,
			IsActive:   alert.IsActive,
			Triggered:  !latest.IsZero() && analytics.AlertTriggered(alert, latest),
			CreatedAt:  alert.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddAlert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetRate decimal.Decimal `json:"target_rate"`
		Direction  string          `json:"direction"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !body.TargetRate.IsPositive() {
		writeError(w, http.StatusBadRequest, "target_rate must be positive")
		return
	}
	if body.Direction != storage.DirectionAbove && body.Direction != storage.DirectionBelow {
		writeError(w, http.StatusBadRequest, "direction must be ABOVE or BELOW")
		return
	}

	alert := storage.RateAlert{
		TargetRate: body.TargetRate,
		Direction:  body.Direction,
		IsActive:   true,
	}

	inserted, err := s.alerts.Insert(r.Context(), owner(r), alert)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, alertDTO{
		ID:         inserted.ID,
		TargetRate: inserted.TargetRate,
		Direction:  inserted.Direction,
		IsActive:   inserted.IsActive,
		CreatedAt:  inserted.CreatedAt,
	})
}

func (s *Server) handleToggleAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	var body struct {
		IsActive bool `json:"is_active"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.alerts.SetActive(r.Context(), owner(r), id, body.IsActive)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alertDTO{
		ID:         updated.ID,
		TargetRate: updated.TargetRate,
		Direction:  updated.Direction,
		IsActive:   updated.IsActive,
		CreatedAt:  updated.CreatedAt,
	})
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	if err := s.alerts.Delete(r.Context(), owner(r), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
