package server

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"assetbank/internal/constants"
	"assetbank/internal/sanitize"
)

// handleDownload streams GET /api/assets/{id}/content.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		WriteError(w, http.StatusMethodNotAllowed, constants.ErrCodeInvalidBody, "method not allowed", nil)
		return
	}

	disposition := r.URL.Query().Get("disposition")
	if disposition != "inline" {
		disposition = "attachment"
	}

	resolved, err := s.app.Services.Asset.ResolveContent(id, ownerID(r))
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	f, err := os.Open(resolved.AbsPath)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set(constants.HeaderContentType, resolved.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(resolved.Size, 10))
	w.Header().Set("Content-Disposition", contentDisposition(disposition, resolved.DownloadName))
	w.WriteHeader(http.StatusOK)

	// Chunked copy so a slow client never pins a large buffer. A send
	// error just means the client went away.
	buf := make([]byte, constants.DownloadChunkSize)
	if _, err := io.CopyBuffer(w, f, buf); err != nil {
		s.logger.Debug("download: stream aborted for %s: %v", id, err)
	}
}

// contentDisposition renders both the plain filename and the RFC 5987
// encoded form so every client agrees on the name.
func contentDisposition(disposition, name string) string {
	plain := sanitize.ContentDispositionFilename(name)
	encoded := url.PathEscape(name)
	return fmt.Sprintf(`%s; filename="%s"; filename*=UTF-8''%s`, disposition, plain, encoded)
}
