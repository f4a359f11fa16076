// Package api is the client for the credential broker: one JSON endpoint
// multiplexed by an "action" field that hands out presigned URLs and
// manages file and folder records.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/stashbox/stashbox/internal/config"
	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/http"
	"github.com/stashbox/stashbox/internal/logging"
	"github.com/stashbox/stashbox/internal/models"
	"github.com/stashbox/stashbox/internal/ratelimit"
)

// maxResponseBytes caps how much of a broker answer is read.
const maxResponseBytes = 4 << 20

// TokenSource supplies the bearer token for each call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns itself.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", config.ErrMissingToken
	}
	return string(s), nil
}

// retryLogger adapts the zerolog wrapper to retryablehttp.LeveledLogger.
type retryLogger struct {
	logger *logging.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTokenSource replaces the token taken from the config.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithOnUnauthorized registers a hook run after the broker rejects the
// token, so a session provider can invalidate it.
func WithOnUnauthorized(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithHTTPClient replaces the proxy-aware base client.
func WithHTTPClient(hc *nethttp.Client) Option {
	return func(c *Client) { c.baseClient = hc }
}

// WithRetryWait overrides the backoff bounds of the transport retries.
func WithRetryWait(min, max time.Duration) Option {
	return func(c *Client) {
		c.retryWaitMin = min
		c.retryWaitMax = max
	}
}

// Client talks to the credential broker.
type Client struct {
	baseClient     *nethttp.Client
	httpClient     *nethttp.Client
	endpoint       string
	tokens         TokenSource
	onUnauthorized func()
	limiter        *ratelimit.RateLimiter
	logger         *logging.Logger
	retryWaitMin   time.Duration
	retryWaitMax   time.Duration

	mu    sync.Mutex
	calls map[string]int64
}

// NewClient creates a broker client from cfg.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, config.ErrMissingBrokerURL
	}

	c := &Client{
		endpoint:     strings.TrimSuffix(cfg.BrokerURL, "/") + constants.BrokerEndpointPath,
		logger:       logging.NewNopLogger(),
		retryWaitMin: constants.HTTPRetryWaitMin,
		retryWaitMax: constants.HTTPRetryWaitMax,
		calls:        make(map[string]int64),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.tokens == nil {
		token, err := cfg.ResolveToken()
		if err != nil {
			return nil, err
		}
		c.tokens = StaticToken(token)
	}

	if c.baseClient == nil {
		hc, err := http.ConfigureHTTPClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
		}
		c.baseClient = hc
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = c.baseClient
	retryClient.RetryMax = constants.HTTPRetryMax
	retryClient.RetryWaitMin = c.retryWaitMin
	retryClient.RetryWaitMax = c.retryWaitMax
	retryClient.Logger = retryLogger{logger: c.logger}
	retryClient.CheckRetry = checkRetry
	// Hand the last response back so its error body can be decoded.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.httpClient = retryClient.StandardClient()

	c.limiter = ratelimit.NewBrokerRateLimiter(c.logger)
	return c, nil
}

// Endpoint returns the broker URL requests are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// CallCount returns how many round trips were made for action.
func (c *Client) CallCount(action string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[action]
}

type actionContextKey struct{}

// replayable reports whether the transport may re-send action after an
// ambiguous failure. A repeated record commit or record delete may find
// its own first attempt already applied.
func replayable(action string) bool {
	switch action {
	case ActionCreateFileRecord, ActionDeleteFileRecord:
		return false
	}
	return true
}

// checkRetry is retryablehttp's default policy for replayable actions.
func checkRetry(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
	if action, _ := ctx.Value(actionContextKey{}).(string); !replayable(action) {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// do performs one round trip for r and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, r Request, out interface{}) error {
	action := r.action()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("broker %s: %w", action, err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &Error{Action: action, Kind: ErrAuth, Err: err}
	}

	payload, err := json.Marshal(requestBody(r))
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", action, err)
	}

	reqCtx := context.WithValue(ctx, actionContextKey{}, action)
	req, err := nethttp.NewRequestWithContext(reqCtx, nethttp.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	c.calls[action]++
	c.mu.Unlock()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("broker %s: %w", action, ctxErr)
		}
		return &Error{Action: action, Kind: ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Action: action, Status: resp.StatusCode, Kind: ErrNetwork, Err: err}
	}

	c.logger.Debug().
		Str("action", action).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Broker call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.responseError(action, resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Action: action, Status: resp.StatusCode, Kind: ErrProtocol, Err: err}
	}
	return nil
}

func (c *Client) responseError(action string, status int, data []byte) error {
	var body ErrorBody
	msg := ""
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		msg = body.Error
	} else {
		msg = strings.TrimSpace(string(data))
		if len(msg) > constants.ErrorBodyLimit {
			msg = msg[:constants.ErrorBodyLimit]
		}
	}

	kind := KindForCode(body.Code, status)
	if errors.Is(kind, ErrAuth) && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
	if status == nethttp.StatusTooManyRequests {
		c.logger.Warn().Str("action", action).Msg("Broker throttled the request")
	}
	return &Error{Action: action, Status: status, Kind: kind, Message: msg}
}

func protocolError(action, format string, args ...interface{}) error {
	return &Error{Action: action, Kind: ErrProtocol, Message: fmt.Sprintf(format, args...)}
}

// GetUploadCredential asks for a presigned POST form for one new object.
func (c *Client) GetUploadCredential(ctx context.Context, fileName, mimeType string, size int64) (*models.UploadCredential, error) {
	var cred models.UploadCredential
	err := c.do(ctx, GetUploadCredential{FileName: fileName, FileType: mimeType, FileSize: size}, &cred)
	if err != nil {
		return nil, err
	}
	if cred.TransferEndpoint == "" || cred.ObjectKey == "" {
		return nil, protocolError(ActionGetPresignedURL, "response lacks uploadUrl or s3Key")
	}
	return &cred, nil
}

// CommitRecord creates the file record for an object already in the store.
func (c *Client) CommitRecord(ctx context.Context, objectKey, fileName, mimeType string, size int64, folderID *string) (*models.FileRecord, error) {
	var resp CommitRecordResponse
	err := c.do(ctx, CommitRecord{
		ObjectKey: objectKey,
		FileName:  fileName,
		FileType:  mimeType,
		FileSize:  size,
		FolderID:  folderID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.FileRecord == nil || resp.FileRecord.ID == "" {
		return nil, protocolError(ActionCreateFileRecord, "response lacks fileRecord")
	}
	return resp.FileRecord, nil
}

// GetDownloadCredential asks for a signed GET URL. When the broker omits
// the expiry it is assumed to be DownloadURLTTL from the time of asking.
func (c *Client) GetDownloadCredential(ctx context.Context, objectKey string) (*models.DownloadCredential, error) {
	issued := time.Now()
	var cred models.DownloadCredential
	if err := c.do(ctx, GetDownloadCredential{ObjectKey: objectKey}, &cred); err != nil {
		return nil, err
	}
	if cred.SignedURL == "" {
		return nil, protocolError(ActionGetSignedURL, "response lacks signedUrl")
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = issued.Add(constants.DownloadURLTTL)
	}
	return &cred, nil
}

// DeleteObject removes stored bytes.
func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	var resp SuccessResponse
	if err := c.do(ctx, DeleteObject{ObjectKey: objectKey}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return protocolError(ActionDeleteFile, "broker reported failure for %s", objectKey)
	}
	return nil
}

// DeleteRecord removes a file record and returns the key of its object,
// which is still in the store.
func (c *Client) DeleteRecord(ctx context.Context, fileID string) (string, error) {
	var resp DeleteRecordResponse
	if err := c.do(ctx, DeleteRecord{FileID: fileID}, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", protocolError(ActionDeleteFileRecord, "broker reported failure for %s", fileID)
	}
	return resp.ObjectKey, nil
}

// CreateFolder creates a folder under parentID, or at the top level when
// parentID is nil.
func (c *Client) CreateFolder(ctx context.Context, name string, parentID *string) (*models.ContainerRecord, error) {
	var resp CreateFolderResponse
	if err := c.do(ctx, CreateFolder{FolderName: name, ParentID: parentID}, &resp); err != nil {
		return nil, err
	}
	if resp.Folder == nil || resp.Folder.ID == "" {
		return nil, protocolError(ActionCreateFolder, "response lacks folder")
	}
	return resp.Folder, nil
}

// ListFolder lists folderID, or the top level when it is nil.
func (c *Client) ListFolder(ctx context.Context, folderID *string) (*models.FolderListing, error) {
	var resp ListFolderResponse
	if err := c.do(ctx, ListFolder{FolderID: folderID}, &resp); err != nil {
		return nil, err
	}
	listing := &models.FolderListing{
		FolderID: folderID,
		Folders:  resp.Folders,
		Files:    resp.Files,
	}
	if listing.Folders == nil {
		listing.Folders = []models.ContainerRecord{}
	}
	if listing.Files == nil {
		listing.Files = []models.FileRecord{}
	}
	return listing, nil
}
