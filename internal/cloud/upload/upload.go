// Package upload sends one object straight to the object store using a
// presigned POST form issued by the broker.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/stashbox/stashbox/internal/cloud/storage"
	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/logging"
	"github.com/stashbox/stashbox/internal/models"
	"github.com/stashbox/stashbox/internal/progress"
)

// fileField is the form field carrying the object bytes. S3 ignores any
// field after it, so it is always written last.
const fileField = "file"

var (
	// ErrCredentialExpired is returned without contacting the store when
	// the form's policy has already lapsed.
	ErrCredentialExpired = errors.New("upload credential expired")

	// ErrInvalidCredential is returned for credentials missing an endpoint
	// or carrying a reserved field name.
	ErrInvalidCredential = errors.New("invalid upload credential")
)

// Uploader performs presigned POST uploads.
type Uploader struct {
	client *nethttp.Client
	logger *logging.Logger
	now    func() time.Time
}

// NewUploader creates an uploader over client, usually the one returned by
// http.CreateOptimizedClient.
func NewUploader(client *nethttp.Client, logger *logging.Logger) *Uploader {
	if client == nil {
		client = nethttp.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Uploader{client: client, logger: logger, now: time.Now}
}

// Upload POSTs size bytes from body to cred.TransferEndpoint as
// multipart/form-data: every form field in credential order, then the bytes
// under "file". Any 2xx answer is success. fn receives cumulative bytes of
// body consumed.
func (u *Uploader) Upload(ctx context.Context, cred *models.UploadCredential, body io.Reader, size int64, fileName, mimeType string, fn progress.Func) error {
	if cred == nil || cred.TransferEndpoint == "" {
		return fmt.Errorf("%w: no transfer endpoint", ErrInvalidCredential)
	}
	if !cred.ExpiresAt.IsZero() && !u.now().Before(cred.ExpiresAt) {
		return fmt.Errorf("%w at %s", ErrCredentialExpired, cred.ExpiresAt.Format(time.RFC3339))
	}

	head, tail, contentType, err := buildEnvelope(cred.FormFields, fileName, mimeType)
	if err != nil {
		return err
	}

	counted := progress.NewReader(io.LimitReader(body, size), 0, size, fn)
	payload := io.MultiReader(bytes.NewReader(head), counted, bytes.NewReader(tail))

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, cred.TransferEndpoint, payload)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.ContentLength = int64(len(head)) + size + int64(len(tail))
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := u.client.Do(req)
	if err != nil {
		if sent := counted.Sent(); sent < size && ctx.Err() == nil {
			return fmt.Errorf("upload interrupted after %d of %d bytes: %w", sent, size, err)
		}
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return storage.ReadObjectStoreError("upload", resp, constants.ErrorBodyLimit)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, constants.ErrorBodyLimit))

	if sent := counted.Sent(); sent != size {
		return fmt.Errorf("%w: sent %d bytes, expected %d", storage.ErrSizeMismatch, sent, size)
	}

	u.logger.Debug().
		Str("object_key", cred.ObjectKey).
		Int64("bytes", size).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("POST upload accepted")
	return nil
}

// buildEnvelope renders everything of the multipart body except the file
// bytes, so the request can stream the file and still carry an exact
// Content-Length.
func buildEnvelope(fields []models.FormField, fileName, mimeType string) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range fields {
		if strings.EqualFold(f.Name, fileField) {
			return nil, nil, "", fmt.Errorf("%w: form field %q is reserved", ErrInvalidCredential, f.Name)
		}
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, nil, "", fmt.Errorf("failed to write form field %s: %w", f.Name, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fileField, escapeQuotes(fileName)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	if _, err := w.CreatePart(h); err != nil {
		return nil, nil, "", fmt.Errorf("failed to write file part header: %w", err)
	}

	head = append([]byte(nil), buf.Bytes()...)
	if err := w.Close(); err != nil {
		return nil, nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	tail = append([]byte(nil), buf.Bytes()[len(head):]...)
	return head, tail, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
