package broker

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashbox/stashbox/internal/config"
	"github.com/stashbox/stashbox/internal/models"
)

func newTestS3Store(t *testing.T, endpoint string) *S3Store {
	t.Helper()
	cfg := config.NewBrokerConfig()
	cfg.Bucket = "stash"
	cfg.Region = "us-east-1"
	cfg.Endpoint = endpoint
	cfg.PathStyle = true
	cfg.AccessKey = "AKIDEXAMPLE"
	cfg.SecretKey = "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"

	st, err := NewS3Store(context.Background(), cfg)
	require.NoError(t, err)
	return st
}

func TestS3StorePresignDownload(t *testing.T) {
	st := newTestS3Store(t, "http://localhost:9000")

	cred, err := st.PresignDownload(context.Background(), "users/u1/1-abc/a.pdf", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cred.SignedURL, "http://localhost:9000/stash/users/u1/1-abc/a.pdf?"), cred.SignedURL)
	assert.Contains(t, cred.SignedURL, "X-Amz-Signature=")
	assert.WithinDuration(t, time.Now().Add(time.Hour), cred.ExpiresAt, time.Minute)
}

func TestS3StorePresignUpload(t *testing.T) {
	st := newTestS3Store(t, "http://localhost:9000")

	cred, err := st.PresignUpload(context.Background(), "users/u1/1-abc/a.pdf", "application/pdf", 1024, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "users/u1/1-abc/a.pdf", cred.ObjectKey)
	assert.Contains(t, cred.TransferEndpoint, "localhost:9000")
	require.NotEmpty(t, cred.FormFields)
	assert.Equal(t, models.FormField{Name: "key", Value: "users/u1/1-abc/a.pdf"}, cred.FormFields[0])

	var contentType string
	for _, f := range cred.FormFields {
		if f.Name == "Content-Type" {
			contentType = f.Value
		}
	}
	assert.Equal(t, "application/pdf", contentType)
}

func TestOrderedFields(t *testing.T) {
	fields := orderedFields(map[string]string{"policy": "p", "key": "k", "X-Amz-Signature": "s", "Content-Type": "c"})
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"key", "Content-Type", "X-Amz-Signature", "policy"}, names)
}

func TestS3StoreDelete(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch {
		case strings.HasSuffix(r.URL.Path, "/gone.pdf"):
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(nethttp.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
		case strings.HasSuffix(r.URL.Path, "/denied.pdf"):
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(nethttp.StatusForbidden)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`))
		default:
			w.WriteHeader(nethttp.StatusNoContent)
		}
	}))
	defer srv.Close()

	st := newTestS3Store(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, st.Delete(ctx, "users/u1/1-abc/a.pdf"))
	assert.Equal(t, "DELETE /stash/users/u1/1-abc/a.pdf", paths[0])

	assert.NoError(t, st.Delete(ctx, "users/u1/1-abc/gone.pdf"), "missing objects are already deleted")
	assert.Error(t, st.Delete(ctx, "users/u1/1-abc/denied.pdf"))
}

func TestS3StoreObjectURL(t *testing.T) {
	st := newTestS3Store(t, "http://localhost:9000")
	assert.Equal(t, "http://localhost:9000/stash/users/u1/1-a/b.pdf", st.ObjectURL("users/u1/1-a/b.pdf"))

	st.endpoint = ""
	assert.Equal(t, "https://stash.s3.us-east-1.amazonaws.com/users/u1/1-a/b.pdf", st.ObjectURL("users/u1/1-a/b.pdf"))
}
