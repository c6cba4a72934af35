package server

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"

	"assetbank/internal/constants"
	"assetbank/internal/database"
	"assetbank/internal/sanitize"
	"assetbank/internal/services"
)

// parsedUpload is the outcome of streaming one multipart upload body.
type parsedUpload struct {
	Tags           []string
	Name           string
	DeclaredHash   string
	Metadata       map[string]interface{}
	ClientFilename string

	// TempPath is empty when no file part arrived or the part was
	// skip-drained because the declared hash is already cataloged.
	TempPath string
	Drained  bool
}

// parseMultipartUpload streams the request body part by part. The file part
// goes to a fresh temp file; when the declared hash is already known by the
// time the file part arrives, the bytes are drained instead of stored.
func (s *Server) parseMultipartUpload(r *http.Request) (*parsedUpload, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get(constants.HeaderContentType))
	if err != nil || mediaType != "multipart/form-data" {
		return nil, services.NewServiceError(constants.ErrCodeUnsupportedMediaType,
			"request must be multipart/form-data")
	}

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, services.NewServiceError(constants.ErrCodeInvalidBody, "malformed multipart body")
	}

	out := &parsedUpload{}
	var tagValues []string

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.discardPartial(out)
			return nil, services.WrapUploadIOError(err)
		}

		switch part.FormName() {
		case "file":
			out.ClientFilename = sanitize.Filename(part.FileName())
			if err := s.receiveFilePart(part, out); err != nil {
				part.Close()
				s.discardPartial(out)
				return nil, err
			}
		case "tags":
			v, err := readFieldValue(part)
			if err != nil {
				s.discardPartial(out)
				return nil, err
			}
			tagValues = append(tagValues, v)
		case "name":
			v, err := readFieldValue(part)
			if err != nil {
				s.discardPartial(out)
				return nil, err
			}
			out.Name = strings.TrimSpace(v)
		case "hash":
			v, err := readFieldValue(part)
			if err != nil {
				s.discardPartial(out)
				return nil, err
			}
			out.DeclaredHash = strings.TrimSpace(v)
		case "user_metadata":
			v, err := readFieldValue(part)
			if err != nil {
				s.discardPartial(out)
				return nil, err
			}
			meta, err := parseMetadataFormValue(v)
			if err != nil {
				s.discardPartial(out)
				return nil, services.NewServiceError(constants.ErrCodeInvalidBody, err.Error())
			}
			out.Metadata = meta
		default:
			// Unknown fields are drained and ignored.
			io.Copy(io.Discard, part)
		}
		part.Close()
	}

	out.Tags = parseTagsParam(tagValues)
	return out, nil
}

// receiveFilePart stores or drains the file part. Draining applies when the
// declared hash arrived before the file and its content is already known.
func (s *Server) receiveFilePart(part io.Reader, out *parsedUpload) error {
	if out.DeclaredHash != "" {
		canonical, err := services.NormalizeHash(out.DeclaredHash)
		if err == nil {
			known, kerr := database.AssetExistsByHash(s.app.DB, canonical)
			if kerr == nil && known {
				if _, err := io.Copy(io.Discard, part); err != nil {
					return services.WrapUploadIOError(err)
				}
				out.Drained = true
				return nil
			}
		}
	}

	tempPath, err := s.app.Services.Ingest.NewUploadTempFile()
	if err != nil {
		return err
	}
	f, err := os.Create(tempPath)
	if err != nil {
		return services.WrapUploadIOError(err)
	}
	if _, err := io.Copy(f, part); err != nil {
		f.Close()
		os.Remove(tempPath)
		return services.WrapUploadIOError(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return services.WrapUploadIOError(err)
	}
	out.TempPath = tempPath
	return nil
}

// discardPartial removes any temp file left by an aborted parse.
func (s *Server) discardPartial(out *parsedUpload) {
	if out.TempPath != "" {
		s.app.Services.Ingest.DiscardUploadTemp(out.TempPath)
		out.TempPath = ""
	}
}

// readFieldValue reads a small non-file form field.
func readFieldValue(part io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, constants.MultipartMaxMemory))
	if err != nil {
		return "", services.WrapUploadIOError(fmt.Errorf("failed to read form field: %w", err))
	}
	return string(data), nil
}
