package api

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

// Payload uploads carry the raw bytes as the request body. The Content-Type
// header is the payload's mime type; ?filename= and, for metadata, ?type= and
// ?index_inline= describe it. Downloads accept ?version=n.

func mimeTypeOf(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	if mt, params, err := mime.ParseMediaType(ct); err == nil {
		if cs, ok := params["charset"]; ok {
			return mime.FormatMediaType(mt, map[string]string{"charset": cs})
		}
		return mt
	}
	return ct
}

func (h *EntityHandler) metadataFromRequest(r *http.Request) (*simpleentity.Metadata, error) {
	inline, err := queryBool(r, "index_inline")
	if err != nil {
		return nil, err
	}
	return &simpleentity.Metadata{
		Name:        chi.URLParam(r, "meta"),
		Type:        r.URL.Query().Get("type"),
		MimeType:    mimeTypeOf(r),
		Filename:    r.URL.Query().Get("filename"),
		Source:      simpleentity.Source{Reader: r.Body},
		IndexInline: inline,
	}, nil
}

// UploadBinary adds a binary from the request body
func (h *EntityHandler) UploadBinary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b := &simpleentity.Binary{
		Name:     chi.URLParam(r, "name"),
		MimeType: mimeTypeOf(r),
		Filename: r.URL.Query().Get("filename"),
		Source:   simpleentity.Source{Reader: r.Body},
	}
	if err := h.service.CreateBinary(r.Context(), id, b); err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	h.respondEntity(w, r, id)
}

// UploadMetadata adds an entity metadata record from the request body
func (h *EntityHandler) UploadMetadata(w http.ResponseWriter, r *http.Request) {
	m, err := h.metadataFromRequest(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.service.CreateMetadata(r.Context(), id, m); err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	h.respondEntity(w, r, id)
}

// UploadBinaryMetadata adds a metadata record to a binary from the request body
func (h *EntityHandler) UploadBinaryMetadata(w http.ResponseWriter, r *http.Request) {
	m, err := h.metadataFromRequest(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.service.CreateBinaryMetadata(r.Context(), id, chi.URLParam(r, "name"), m); err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	h.respondEntity(w, r, id)
}

// DownloadBinary streams a binary's bytes
func (h *EntityHandler) DownloadBinary(w http.ResponseWriter, r *http.Request) {
	version, err := queryInt(r, "version", 0)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	b, rc, err := h.service.OpenBinary(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	stream(w, r, rc, b.MimeType, b.Filename, b.Size, b.Checksum)
}

// DownloadMetadata streams an entity metadata record's bytes
func (h *EntityHandler) DownloadMetadata(w http.ResponseWriter, r *http.Request) {
	version, err := queryInt(r, "version", 0)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	m, rc, err := h.service.OpenMetadata(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "meta"), version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	stream(w, r, rc, m.MimeType, m.Filename, m.Size, m.Checksum)
}

// DownloadBinaryMetadata streams a binary metadata record's bytes
func (h *EntityHandler) DownloadBinaryMetadata(w http.ResponseWriter, r *http.Request) {
	version, err := queryInt(r, "version", 0)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	m, rc, err := h.service.OpenBinaryMetadata(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), chi.URLParam(r, "meta"), version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	stream(w, r, rc, m.MimeType, m.Filename, m.Size, m.Checksum)
}

// DeleteBinary removes a binary
func (h *EntityHandler) DeleteBinary(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBinary(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMetadata removes an entity metadata record
func (h *EntityHandler) DeleteMetadata(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteMetadata(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "meta")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteBinaryMetadata removes a binary's metadata record
func (h *EntityHandler) DeleteBinaryMetadata(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBinaryMetadata(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), chi.URLParam(r, "meta")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func stream(w http.ResponseWriter, r *http.Request, rc io.Reader, mimeType, filename string, size int64, checksum string) {
	if mimeType != "" {
		w.Header().Set("Content-Type", mimeType)
	}
	if filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	}
	if checksum != "" {
		w.Header().Set("Digest", "sha-256="+checksum)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logStreamError(r, err)
	}
}
