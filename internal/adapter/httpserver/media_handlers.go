package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// UploadMediaHandler accepts one multipart file, deduplicated by content
// hash.
func (s *Server) UploadMediaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument))
			return
		}
		maxBytes := s.Cfg.MaxUploadMB << 20
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeError(w, fmt.Errorf("%w: file field required: %v", domain.ErrInvalidArgument, err))
			return
		}
		defer func() { _ = f.Close() }()

		res, err := s.Media.Upload(r.Context(), hdr.Filename, f)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, map[string]any{
			"fileId":   res.File.ID,
			"fileName": res.File.ProviderName,
			"fileHash": res.File.Hash,
			"url":      "/api/v1/media/file/" + fmt.Sprint(res.File.ID),
			"existing": res.Existing,
		})
	}
}

// ListMediaHandler returns every stored media file.
func (s *Server) ListMediaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := s.Media.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, renderMediaList(files))
	}
}

// ServeMediaHandler streams one stored blob.
func (s *Server) ServeMediaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		f, rc, err := s.Media.Open(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		defer func() { _ = rc.Close() }()
		w.Header().Set("Content-Type", f.MIME)
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", f.OriginalName))
		_, _ = io.Copy(w, rc)
	}
}

// MediaByNamesHandler resolves provider file handles back to records.
// Names arrive comma-separated in the "names" query parameter.
func (s *Server) MediaByNamesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("names")
		var names []string
		for _, n := range strings.Split(raw, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		files, err := s.Media.FindByProviderNames(r.Context(), names)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, renderMediaList(files))
	}
}
