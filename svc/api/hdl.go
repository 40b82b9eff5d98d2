package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"

	"pastebin/cfg"
	"pastebin/pkg/domain"
	"pastebin/svc/svc"
	"pastebin/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

const helloText = "Hello World!"

type Hdl struct {
	paste    *svc.Paste
	cfg      *cfg.Cfg
	validate *validator.Validate
}

func NewHdl(p *svc.Paste, c *cfg.Cfg) *Hdl {
	return &Hdl{paste: p, cfg: c, validate: validator.New()}
}

// CreateReq uses pointers so a missing field is told apart from an empty
// string; only presence is required.
type CreateReq struct {
	Title *string `json:"title" validate:"required"`
	Body  *string `json:"body" validate:"required"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		writeErr(w, domain.ErrUnsupportedMediaType, requestID)
		return
	}
	limit := h.cfg.MaxBodySize
	if clHeader := r.Header.Get("Content-Length"); clHeader != "" {
		cl, err := strconv.ParseInt(clHeader, 10, 64)
		if err != nil || cl < 0 {
			log.Warn().Str("content_length", clHeader).Msg("invalid Content-Length")
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		if cl > limit {
			log.Warn().Int64("content_length", cl).Int64("limit", limit).Msg("Content-Length exceeds maximum")
			writeErr(w, domain.ErrPayloadTooLarge, requestID)
			return
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			log.Warn().Int64("limit", limit).Msg("request body exceeds maximum")
			writeErr(w, domain.ErrPayloadTooLarge, requestID)
		case err == io.EOF:
			log.Warn().Msg("empty request body")
			writeErr(w, domain.ErrInvalidRequest, requestID)
		default:
			log.Warn().Err(err).Msg("invalid request")
			writeErr(w, domain.ErrInvalidRequest, requestID)
		}
		return
	}
	if dec.More() {
		log.Warn().Msg("trailing data after JSON body")
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErr(w, validationErr(err), requestID)
		return
	}
	paste, err := h.paste.Create(r.Context(), domain.CreateParams{
		Title: *req.Title,
		Body:  *req.Body,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("hash", paste.Hash).
		Int("body_bytes", len(*req.Body)).
		Msg("paste created")
	writeJSON(w, http.StatusOK, paste)
}
func (h *Hdl) ListPastes(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	pastes, err := h.paste.List(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list pastes")
		writeErr(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, domain.PasteList{Pastes: pastes})
}
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	hash := chi.URLParam(r, "hash")
	paste, err := h.paste.Get(r.Context(), hash)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			log.Debug().Str("hash", hash).Msg("paste not found")
			writeErr(w, domain.ErrPasteNotFound, requestID)
			return
		}
		log.Error().Err(err).Str("hash", hash).Msg("get failed")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("hash", hash).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Int("click_count", paste.ClickCount).
		Msg("paste retrieved")
	writeJSON(w, http.StatusOK, paste)
}
func (h *Hdl) Hello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, helloText)
}

// validationErr maps the first failed field to its sentinel.
func validationErr(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "Title":
			return domain.ErrTitleRequired
		case "Body":
			return domain.ErrBodyRequired
		}
	}
	return domain.ErrInvalidRequest
}
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Warn().Err(err).Msg("failed to write response")
	}
}
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}
