package httpapi

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/credit-markets/vitalfi-backend/internal/domain/event"
	"github.com/credit-markets/vitalfi-backend/internal/metrics"
)

type webhookResponse struct {
	SubjectsUpserted  int `json:"subjectsUpserted"`
	ActivitiesCreated int `json:"activitiesCreated"`
}

// handleWebhook ingests a delivery from the event provider. The body is
// either a JSON array of transaction events or a single event object.
// Events are processed in order; the first failure aborts the batch with
// an error status, and the provider's redelivery re-runs the whole batch
// idempotently.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		metrics.WebhookAuthFailures.WithLabelValues(s.cfg.Network).Inc()
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	events, ok := decodeEvents(w, r)
	if !ok {
		return
	}
	metrics.WebhookEventsReceived.WithLabelValues(s.cfg.Network).Add(float64(len(events)))

	var resp webhookResponse
	for _, evt := range events {
		res, err := s.ingester.Ingest(r.Context(), evt)
		if err != nil {
			var verr *event.ValidationError
			if errors.As(err, &verr) {
				metrics.WebhookInvalidEvents.WithLabelValues(s.cfg.Network).Inc()
				http.Error(w, fmt.Sprintf(`{"error":%q}`, verr.Error()), http.StatusBadRequest)
				return
			}
			s.logger.Error("event ingestion failed", "signature", evt.Signature, "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		resp.SubjectsUpserted += res.SubjectsUpserted
		resp.ActivitiesCreated += res.ActivitiesCreated
	}

	writeJSON(w, http.StatusOK, resp)
}

// authorized compares the Authorization header against the shared webhook
// secret in constant time. A "Bearer " prefix is tolerated; the provider
// sends the bare token.
func (s *Server) authorized(r *http.Request) bool {
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if got == "" || s.cfg.WebhookToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookToken)) == 1
}

// decodeEvents reads the request body and decodes it as either an event
// array or a single event. Returns false (and writes an error response)
// on malformed input.
func decodeEvents(w http.ResponseWriter, r *http.Request) ([]*event.TransactionEvent, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, `{"error":"reading request body failed"}`, http.StatusBadRequest)
		return nil, false
	}

	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		http.Error(w, `{"error":"empty body"}`, http.StatusBadRequest)
		return nil, false
	}

	var events []*event.TransactionEvent
	if trimmed[0] == '[' {
		if err := json.Unmarshal(raw, &events); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return nil, false
		}
	} else {
		var evt event.TransactionEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return nil, false
		}
		events = []*event.TransactionEvent{&evt}
	}

	for _, evt := range events {
		if evt == nil {
			http.Error(w, `{"error":"null event in payload"}`, http.StatusBadRequest)
			return nil, false
		}
	}
	return events, true
}
