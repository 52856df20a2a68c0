package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cermont/notifier/internal/auth"
	"github.com/cermont/notifier/internal/email"
	"github.com/cermont/notifier/internal/logger"
	"github.com/cermont/notifier/internal/provider"
	"github.com/cermont/notifier/internal/templates"
)

// maxBatchSize bounds POST /api/v1/emails/batch.
const maxBatchSize = 500

type sendResponse struct {
	ProviderMessageID string            `json:"provider_message_id"`
	Status            string            `json:"status"`
	Accepted          []string          `json:"accepted"`
	Rejected          []string          `json:"rejected,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type transportErrorResponse struct {
	Error      string `json:"error"`
	Provider   string `json:"provider"`
	StatusCode int    `json:"status_code,omitempty"`
	Permanent  bool   `json:"permanent"`
}

type enqueueResponse struct {
	JobID     string `json:"job_id"`
	QueueMode string `json:"queue_mode"`
}

type batchRequest struct {
	Messages []email.Message `json:"messages"`
}

type batchResponse struct {
	JobIDs    []string `json:"job_ids"`
	QueueMode string   `json:"queue_mode"`
}

// SendEmailHandler handles POST /api/v1/emails/send. It delivers
// synchronously and returns 502 with the transport details when the
// transport rejects the message.
func SendEmailHandler(n Notifier, audit *auth.AuditLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		var msg email.Message
		if err := decodeJSON(w, r, &msg); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := n.SendEmail(r.Context(), msg)
		if err != nil {
			var te *provider.TransportError
			switch {
			case errors.As(err, &te):
				audit.LogAdminAction(r.Context(), r, auth.AuditActionSend, "email", "", auth.AuditResultFailure,
					map[string]interface{}{"provider": te.Provider, "status_code": te.StatusCode})
				respondJSON(w, http.StatusBadGateway, transportErrorResponse{
					Error:      te.Error(),
					Provider:   te.Provider,
					StatusCode: te.StatusCode,
					Permanent:  te.Permanent,
				})
			case isClientError(err):
				respondError(w, http.StatusBadRequest, err.Error())
			default:
				log.Error().Err(err).Msg("send email failed")
				respondError(w, http.StatusInternalServerError, "send failed")
			}
			return
		}

		audit.LogAdminAction(r.Context(), r, auth.AuditActionSend, "email", res.ProviderMessageID, auth.AuditResultSuccess, nil)
		respondJSON(w, http.StatusOK, sendResponse{
			ProviderMessageID: res.ProviderMessageID,
			Status:            string(res.Status),
			Accepted:          res.Accepted,
			Rejected:          res.Rejected,
			Timestamp:         res.Timestamp,
			Metadata:          res.Metadata,
		})
	}
}

// EnqueueEmailHandler handles POST /api/v1/emails. It answers 202 once
// the queue accepted the job; delivery happens later or, in degraded
// mode, has already been attempted.
func EnqueueEmailHandler(n Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		var msg email.Message
		if err := decodeJSON(w, r, &msg); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		id, err := n.Enqueue(r.Context(), msg)
		if err != nil {
			if isClientError(err) {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Error().Err(err).Msg("enqueue email failed")
			respondError(w, http.StatusServiceUnavailable, "queue unavailable")
			return
		}

		respondJSON(w, http.StatusAccepted, enqueueResponse{JobID: id, QueueMode: string(n.Mode())})
	}
}

// EnqueueBatchHandler handles POST /api/v1/emails/batch.
func EnqueueBatchHandler(n Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		var req batchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(req.Messages) == 0 {
			respondError(w, http.StatusBadRequest, "messages is required and must not be empty")
			return
		}
		if len(req.Messages) > maxBatchSize {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("at most %d messages per batch", maxBatchSize))
			return
		}

		ids, err := n.EnqueueBatch(r.Context(), req.Messages)
		if err != nil {
			if isClientError(err) {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Error().Err(err).Int("messages", len(req.Messages)).Msg("enqueue batch failed")
			respondError(w, http.StatusServiceUnavailable, "queue unavailable")
			return
		}

		respondJSON(w, http.StatusAccepted, batchResponse{JobIDs: ids, QueueMode: string(n.Mode())})
	}
}

// isClientError reports whether err stems from the request content.
func isClientError(err error) bool {
	return errors.Is(err, email.ErrNoRecipients) ||
		errors.Is(err, email.ErrNoContent) ||
		errors.Is(err, email.ErrInvalidAddress) ||
		errors.Is(err, templates.ErrTemplateNotFound)
}
