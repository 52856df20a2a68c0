package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cermont/notifier/internal/auth"
	"github.com/cermont/notifier/internal/logger"
	"github.com/cermont/notifier/internal/mimemsg"
	"github.com/cermont/notifier/internal/msgstore"
)

type outboxListResponse struct {
	Messages []msgstore.Entry `json:"messages"`
	Count    int              `json:"count"`
}

// OutboxListHandler handles GET /api/v1/outbox, listing messages written by
// the file transport, newest first.
func OutboxListHandler(n Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		store := n.Outbox()
		if store == nil {
			respondError(w, http.StatusNotFound, "outbox is only available with the file transport")
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

		entries, err := store.List(r.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("outbox list failed")
			respondError(w, http.StatusInternalServerError, "list failed")
			return
		}
		if entries == nil {
			entries = []msgstore.Entry{}
		}
		respondJSON(w, http.StatusOK, outboxListResponse{Messages: entries, Count: len(entries)})
	}
}

type outboxMessageResponse struct {
	Name        string   `json:"name"`
	MessageID   string   `json:"message_id,omitempty"`
	From        string   `json:"from"`
	To          []string `json:"to"`
	ReplyTo     string   `json:"reply_to,omitempty"`
	Subject     string   `json:"subject"`
	Date        string   `json:"date,omitempty"`
	Text        string   `json:"text,omitempty"`
	HTML        string   `json:"html,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	Signed      bool     `json:"dkim_signed"`
}

// OutboxGetHandler handles GET /api/v1/outbox/{name}, returning the raw
// RFC 5322 message, or its decoded parts with ?format=json.
func OutboxGetHandler(n Notifier, audit *auth.AuditLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		store := n.Outbox()
		if store == nil {
			respondError(w, http.StatusNotFound, "outbox is only available with the file transport")
			return
		}

		name := chi.URLParam(r, "name")
		if err := msgstore.ValidateName(name); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		data, err := store.Get(r.Context(), name)
		if err != nil {
			if errors.Is(err, msgstore.ErrNotFound) {
				respondError(w, http.StatusNotFound, "message not found")
				return
			}
			log.Error().Err(err).Str("name", name).Msg("outbox read failed")
			respondError(w, http.StatusInternalServerError, "read failed")
			return
		}

		audit.LogAdminAction(r.Context(), r, auth.AuditActionOutboxRead, "outbox", name, auth.AuditResultSuccess, nil)

		if r.URL.Query().Get("format") == "json" {
			msg, err := mimemsg.Parse(data)
			if err != nil {
				log.Warn().Err(err).Str("name", name).Msg("outbox message is not valid MIME")
				respondError(w, http.StatusUnprocessableEntity, "message could not be parsed")
				return
			}
			respondJSON(w, http.StatusOK, outboxMessage(name, msg))
			return
		}

		w.Header().Set("Content-Type", "message/rfc822")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func outboxMessage(name string, msg *mimemsg.Message) outboxMessageResponse {
	resp := outboxMessageResponse{
		Name:      name,
		MessageID: msg.MessageID,
		From:      msg.From,
		To:        msg.To,
		ReplyTo:   msg.ReplyTo,
		Subject:   msg.Subject,
		Text:      msg.TextBody,
		HTML:      msg.HTMLBody,
		Signed:    msg.DKIMSigned,
	}
	if !msg.Date.IsZero() {
		resp.Date = msg.Date.UTC().Format(time.RFC3339)
	}
	for _, att := range msg.Attachments {
		resp.Attachments = append(resp.Attachments, att.Filename)
	}
	return resp
}
