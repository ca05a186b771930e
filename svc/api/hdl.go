package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/axololly/paste/cfg"
	"github.com/axololly/paste/pkg/domain"
	"github.com/axololly/paste/svc/svc"
	"github.com/axololly/paste/svc/util"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"
)

const maxFilenameLen = 255

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

// FilePair is the wire shape of one file: a [filename, content] pair where
// filename may be null ("unnamed").
type FilePair struct {
	Filename *string
	Content  string
}

func (f *FilePair) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("file entry is not a list")
	}
	if len(pair) != 2 {
		return fmt.Errorf("file entry must be a [filename, content] pair, got %d items", len(pair))
	}
	if err := json.Unmarshal(pair[0], &f.Filename); err != nil {
		return fmt.Errorf("filename must be a string or null")
	}
	var content *string
	if err := json.Unmarshal(pair[1], &content); err != nil || content == nil {
		return fmt.Errorf("content must be a string")
	}
	f.Content = *content
	return nil
}

func (f FilePair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{f.Filename, f.Content})
}

type CreateReq struct {
	Files   []FilePair `json:"files"`
	KeepFor *int       `json:"keep_for,omitempty"`
}

type CreateResp struct {
	ID         string    `json:"id"`
	RemovalKey string    `json:"removal_key"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type GetResp struct {
	Files     []FilePair `json:"files"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

type UpdateReq struct {
	Files []FilePair `json:"files"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	var req CreateReq
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Files) == 0 {
		log.Warn().Msg("empty file list")
		writeErr(w, domain.ErrEmptyFileSet, requestID)
		return
	}
	ttlDays := h.cfg.DefaultTTLDays
	if req.KeepFor != nil {
		if *req.KeepFor < h.cfg.MinTTLDays || *req.KeepFor > h.cfg.MaxTTLDays {
			log.Warn().Int("keep_for", *req.KeepFor).Msg("retention out of range")
			writeErr(w, domain.ErrInvalidTTL, requestID)
			return
		}
		ttlDays = *req.KeepFor
	}
	params := domain.CreateParams{
		Files: toFileInputs(req.Files),
		TTL:   time.Duration(ttlDays) * 24 * time.Hour,
	}
	paste, err := h.paste.Create(r.Context(), params)
	if err != nil {
		if errors.Is(err, domain.ErrPasteTooLarge) ||
			errors.Is(err, domain.ErrCapacityExceeded) ||
			errors.Is(err, domain.ErrEmptyFileSet) ||
			errors.Is(err, domain.ErrInvalidTTL) {
			writeErr(w, err, requestID)
			return
		}
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Int("files", len(paste.Files)).
		Int("ttl_days", ttlDays).
		Msg("paste created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{
		ID:         paste.ID,
		RemovalKey: paste.RemovalKey,
		ExpiresAt:  paste.ExpiresAt,
	})
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	paste, err := h.paste.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			writeErr(w, domain.ErrPasteNotFound, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("get failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(GetResp{
		Files:     toFilePairs(paste.Files),
		CreatedAt: paste.CreatedAt,
		ExpiresAt: paste.ExpiresAt,
	})
}

func (h *Hdl) GetFile(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	position, ok := parsePosition(w, r, requestID)
	if !ok {
		return
	}
	file, err := h.paste.GetFile(r.Context(), id, position)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			writeErr(w, domain.ErrPasteNotFound, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Int("position", position).Msg("get file failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(FilePair{Filename: file.Filename, Content: file.Content})
}

func (h *Hdl) UpdatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	var req UpdateReq
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Files) == 0 {
		writeErr(w, domain.ErrEmptyFileSet, requestID)
		return
	}
	_, err := h.paste.Update(r.Context(), domain.UpdateParams{
		ID:    id,
		Files: toFileInputs(req.Files),
	})
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) ||
			errors.Is(err, domain.ErrPasteTooLarge) ||
			errors.Is(err, domain.ErrEmptyFileSet) {
			writeErr(w, err, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("update failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().Str("paste_id", id).Int("files", len(req.Files)).Msg("paste updated")
	json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}

func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	removalKey := chi.URLParam(r, "removalKey")
	if err := h.paste.Delete(r.Context(), removalKey); err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			writeErr(w, domain.ErrPasteNotFound, requestID)
			return
		}
		log.Error().Err(err).Msg("delete failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

// decodeJSON enforces content type and size limits, then decodes the body.
// Replies and returns false on any failure.
func (h *Hdl) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().Str("content_type", contentType).Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return false
	}
	// Worst-case JSON escaping expands every content byte to a six-byte
	// \uXXXX sequence; size the reader so a paste at the limit still reaches
	// the quota check and gets its precise diagnostic instead of a generic
	// body rejection.
	limit := h.cfg.MaxPasteSize*6 + 64*1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request body")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return false
	}
	return true
}

func parsePosition(w http.ResponseWriter, r *http.Request, requestID string) (int, bool) {
	raw := chi.URLParam(r, "position")
	position, err := strconv.Atoi(raw)
	if err != nil || position < 1 {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return 0, false
	}
	return position, true
}

func toFileInputs(pairs []FilePair) []domain.FileInput {
	files := make([]domain.FileInput, len(pairs))
	for i, p := range pairs {
		files[i] = domain.FileInput{
			Filename: sanitizeFilename(p.Filename),
			Content:  p.Content,
		}
	}
	return files
}

func toFilePairs(files []domain.File) []FilePair {
	pairs := make([]FilePair, len(files))
	for i, f := range files {
		pairs[i] = FilePair{Filename: f.Filename, Content: f.Content}
	}
	return pairs
}

// sanitizeFilename normalizes a display name and strips control characters.
// An empty result collapses back to nil (unnamed).
func sanitizeFilename(name *string) *string {
	if name == nil {
		return nil
	}
	s := norm.NFC.String(*name)
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if len(s) > maxFilenameLen {
		s = s[:maxFilenameLen]
	}
	return &s
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	w.WriteHeader(statusCode)
	resp := domain.ToResp(err)
	if statusCode >= 500 {
		resp = domain.ToResp(domain.ErrInternalServer)
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":      resp.Error,
		"request_id": requestID,
	})
}
