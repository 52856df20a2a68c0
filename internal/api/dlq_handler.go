package api

import (
	"net/http"
	"strconv"

	"github.com/cermont/notifier/internal/auth"
	"github.com/cermont/notifier/internal/logger"
	"github.com/cermont/notifier/internal/queue"
)

// dlqReprocessRequest is the JSON body for POST /api/v1/dlq/reprocess.
type dlqReprocessRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// dlqReprocessResponse is the JSON response for a DLQ reprocess operation.
type dlqReprocessResponse struct {
	Reprocessed int `json:"reprocessed"`
	Total       int `json:"total"`
}

type dlqListResponse struct {
	DeadLetters []queue.DeadLetter `json:"dead_letters"`
	Count       int                `json:"count"`
}

// DLQListHandler handles GET /api/v1/dlq?limit=N. Only dead-letter
// channels that can be browsed support it; others answer 501.
func DLQListHandler(n Notifier, audit *auth.AuditLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		dlq := n.DeadLetters()
		if dlq == nil {
			respondError(w, http.StatusServiceUnavailable, "no dead-letter queue in degraded mode")
			return
		}
		lister, ok := dlq.(queue.DeadLetterLister)
		if !ok {
			respondError(w, http.StatusNotImplemented, "dead-letter listing is not supported by broker "+n.Broker())
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v <= 0 {
				respondError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = v
		}

		letters, err := lister.List(r.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("dlq list failed")
			respondError(w, http.StatusInternalServerError, "list failed")
			return
		}
		if letters == nil {
			letters = []queue.DeadLetter{}
		}

		audit.LogAdminAction(r.Context(), r, auth.AuditActionDLQList, "dlq", "", auth.AuditResultSuccess,
			map[string]interface{}{"count": len(letters)})
		respondJSON(w, http.StatusOK, dlqListResponse{DeadLetters: letters, Count: len(letters)})
	}
}

// DLQReprocessHandler handles POST /api/v1/dlq/reprocess.
// It re-enqueues messages from the dead letter queue back to the primary queue.
func DLQReprocessHandler(n Notifier, audit *auth.AuditLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		var req dlqReprocessRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if len(req.MessageIDs) == 0 {
			respondError(w, http.StatusBadRequest, "message_ids is required and must not be empty")
			return
		}

		dlq := n.DeadLetters()
		if dlq == nil {
			respondError(w, http.StatusServiceUnavailable, "no dead-letter queue in degraded mode")
			return
		}

		reprocessed, err := dlq.Reprocess(r.Context(), req.MessageIDs)
		if err != nil {
			log.Error().Err(err).
				Int("requested", len(req.MessageIDs)).
				Int("reprocessed", reprocessed).
				Msg("dlq reprocess failed")
			audit.LogAdminAction(r.Context(), r, auth.AuditActionReprocess, "dlq", "", auth.AuditResultFailure,
				map[string]interface{}{"requested": len(req.MessageIDs), "reprocessed": reprocessed})
			respondError(w, http.StatusInternalServerError, "reprocess failed")
			return
		}

		log.Info().
			Int("reprocessed", reprocessed).
			Int("total", len(req.MessageIDs)).
			Msg("dlq reprocess completed")
		audit.LogAdminAction(r.Context(), r, auth.AuditActionReprocess, "dlq", "", auth.AuditResultSuccess,
			map[string]interface{}{"requested": len(req.MessageIDs), "reprocessed": reprocessed})

		respondJSON(w, http.StatusOK, dlqReprocessResponse{
			Reprocessed: reprocessed,
			Total:       len(req.MessageIDs),
		})
	}
}
