package api

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/axololly/paste/pkg/domain"
	"github.com/axololly/paste/svc/util"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const rawSeparator = "\n\n***\n\n"

// GetRaw renders all files of a paste as plain text. Each file is headed
// with its position and name, unnamed files show as "???":
//
//	[1. test.py]
//	print("hello")
//
//	***
//
//	[2. ???]
//	no name here
func (h *Hdl) GetRaw(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	paste, err := h.paste.Get(r.Context(), id)
	if err != nil {
		h.renderErr(w, log, err, requestID, id)
		return
	}
	var buf bytes.Buffer
	for i, f := range paste.Files {
		if i > 0 {
			buf.WriteString(rawSeparator)
		}
		fmt.Fprintf(&buf, "[%d. %s]\n%s", f.Position, displayName(f.Filename), f.Content)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(buf.Bytes())
}

// GetRawFile renders a single file as plain text with its name header.
func (h *Hdl) GetRawFile(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	position, ok := parsePosition(w, r, requestID)
	if !ok {
		return
	}
	file, err := h.paste.GetFile(r.Context(), id, position)
	if err != nil {
		h.renderErr(w, log, err, requestID, id)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "[%s]\n%s", displayName(file.Filename), file.Content)
}

// DownloadPaste packages all files of a paste into a zip archive. Entries
// are named "{id}-{filename}", falling back to the file position for
// unnamed files.
func (h *Hdl) DownloadPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	paste, err := h.paste.Get(r.Context(), id)
	if err != nil {
		h.renderErr(w, log, err, requestID, id)
		return
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range paste.Files {
		name := strconv.Itoa(f.Position)
		if f.Filename != nil {
			name = *f.Filename
		}
		entry, err := zw.Create(paste.ID + "-" + name)
		if err != nil {
			log.Error().Err(err).Str("paste_id", id).Msg("zip entry failed")
			writeErr(w, domain.ErrInternalServer, requestID)
			return
		}
		if _, err := entry.Write([]byte(f.Content)); err != nil {
			log.Error().Err(err).Str("paste_id", id).Msg("zip write failed")
			writeErr(w, domain.ErrInternalServer, requestID)
			return
		}
	}
	if err := zw.Close(); err != nil {
		log.Error().Err(err).Str("paste_id", id).Msg("zip close failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.zip", paste.ID))
	w.Write(buf.Bytes())
}

func (h *Hdl) renderErr(w http.ResponseWriter, log *zerolog.Logger, err error, requestID, id string) {
	if errors.Is(err, domain.ErrPasteNotFound) {
		w.Header().Set("Content-Type", "application/json")
		writeErr(w, domain.ErrPasteNotFound, requestID)
		return
	}
	log.Error().Err(err).Str("paste_id", id).Msg("render failed")
	w.Header().Set("Content-Type", "application/json")
	writeErr(w, domain.ErrInternalServer, requestID)
}

func displayName(name *string) string {
	if name == nil || *name == "" {
		return "???"
	}
	return *name
}
