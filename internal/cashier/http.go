package cashier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tablecash/cashier/internal/event"
	"github.com/tablecash/cashier/internal/ledger"
	"github.com/tablecash/cashier/internal/model"
)

const maxEventBytes = 64 << 10

// SessionView is the JSON snapshot returned by the session endpoints.
type SessionView struct {
	Session        *model.Session  `json:"session"`
	Totals         model.Totals    `json:"totals"`
	OutstandingWei decimal.Decimal `json:"outstanding_wei"`
	Report         string          `json:"report,omitempty"`
}

func newSessionView(s *model.Session, withReport bool) SessionView {
	totals := s.Totals()
	v := SessionView{
		Session:        s,
		Totals:         totals,
		OutstandingWei: totals.OutstandingWei(),
	}
	if withReport {
		v.Report = stateReport(s)
	}
	return v
}

// PostEvent handles POST /api/v1/events
// Decodes one chat event and applies it before answering. Redelivered
// event ids are acknowledged without being applied again.
func (s *Service) PostEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ev, err := event.Decode(body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The operation must run to completion once started, even if the
	// caller hangs up while a payout is in flight.
	ctx := context.WithoutCancel(r.Context())

	applied, err := s.Handle(ctx, ev)
	if err != nil {
		writeError(w, "failed to process event", http.StatusInternalServerError)
		return
	}

	resp := map[string]string{"status": "accepted", "event_id": ev.Metadata().ID}
	status := http.StatusAccepted
	if !applied {
		resp["status"] = "duplicate"
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// ListSessions handles GET /api/v1/sessions
func (s *Service) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.ledger.ListSessions(r.Context())
	if err != nil {
		writeError(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}

	views := make([]SessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, newSessionView(&sessions[i], false))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// GetSession handles GET /api/v1/sessions/{channelID}
// Returns the snapshot plus the rendered state report.
func (s *Service) GetSession(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	session, err := s.ledger.GetSession(r.Context(), channelID)
	if errors.Is(err, ledger.ErrNoSession) {
		writeError(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(newSessionView(session, true))
}

// DeleteSession handles DELETE /api/v1/sessions/{channelID}
// Discards a finished, fully settled session.
func (s *Service) DeleteSession(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	err := s.ledger.DiscardSession(r.Context(), channelID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ledger.ErrNoSession):
		writeError(w, "session not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrSessionActive):
		writeError(w, "session is still active", http.StatusConflict)
	case errors.Is(err, ledger.ErrPayoutsPending):
		writeError(w, "session has pending payouts", http.StatusConflict)
	default:
		writeError(w, "failed to delete session", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
