package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cermont/notifier/internal/logger"
	"github.com/cermont/notifier/internal/templates"
)

type previewRequest struct {
	Data map[string]any `json:"data"`
}

type previewResponse struct {
	Template string `json:"template"`
	HTML     string `json:"html"`
	Text     string `json:"text"`
}

// ListTemplatesHandler handles GET /api/v1/templates.
func ListTemplatesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys := templates.Keys()
		out := make([]string, len(keys))
		for i, k := range keys {
			out[i] = string(k)
		}
		respondJSON(w, http.StatusOK, map[string][]string{"templates": out})
	}
}

// PreviewTemplateHandler handles POST /api/v1/templates/{key}/preview. An
// empty body renders with no data.
func PreviewTemplateHandler(n Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		key := templates.Key(chi.URLParam(r, "key"))

		var req previewRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		out, err := n.RenderTemplate(key, req.Data)
		if err != nil {
			if errors.Is(err, templates.ErrTemplateNotFound) {
				respondError(w, http.StatusNotFound, err.Error())
				return
			}
			log.Error().Err(err).Str("template", string(key)).Msg("template preview failed")
			respondError(w, http.StatusInternalServerError, "render failed")
			return
		}

		respondJSON(w, http.StatusOK, previewResponse{Template: string(key), HTML: out.HTML, Text: out.Text})
	}
}
