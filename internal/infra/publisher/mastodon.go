package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/observability/metrics"
)

const (
	// MaxMediaBytes is the upload size ceiling.
	MaxMediaBytes = 10 * 1024 * 1024

	mediaPollInitial  = 1 * time.Second
	mediaPollMax      = 5 * time.Second
	mediaPollAttempts = 10

	rateLimitAttempts = 3
	serverErrAttempts = 2
)

// Status is the subset of the instance's status object the gateway
// reads back.
type Status struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// mediaResponse is the media attachment object.
type mediaResponse struct {
	ID string `json:"id"`
}

// apiError is the instance's error envelope.
type apiError struct {
	Error string `json:"error"`
}

// Client talks to one target account on the instance.
type Client struct {
	baseURL     string
	token       string
	client      *http.Client
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// NewClient creates a publisher client for one target account.
func NewClient(instanceURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:     strings.TrimRight(instanceURL, "/"),
		token:       token,
		client:      httpClient,
		rateLimiter: NewRateLimiter(1.0, 5),
		logger:      slog.Default(),
	}
}

// VerifyCredentials checks the token and returns the account's acct
// name.
func (c *Client) VerifyCredentials(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/accounts/verify_credentials", nil, "")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", c.asError(resp)
	}
	var account struct {
		Acct string `json:"acct"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return "", err
	}
	return account.Acct, nil
}

// UploadMedia uploads one attachment through the asynchronous media
// endpoint and blocks until the instance reports it ready. Oversize
// payloads are rejected before any bytes leave the process.
func (c *Client) UploadMedia(ctx context.Context, data []byte, filename, mimeType, altText string) (string, error) {
	if len(data) > MaxMediaBytes {
		metrics.RecordMediaUpload(false)
		return "", &ValidationError{Message: fmt.Sprintf("media %s exceeds %d bytes", filename, MaxMediaBytes)}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if altText != "" {
		if err := writer.WriteField("description", altText); err != nil {
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v2/media", &buf, writer.FormDataContentType())
	if err != nil {
		metrics.RecordMediaUpload(false)
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var media mediaResponse
		if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
			return "", err
		}
		metrics.RecordMediaUpload(true)
		return media.ID, nil
	case http.StatusAccepted:
		var media mediaResponse
		if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
			return "", err
		}
		if err := c.waitForMedia(ctx, media.ID); err != nil {
			metrics.RecordMediaUpload(false)
			return "", err
		}
		metrics.RecordMediaUpload(true)
		return media.ID, nil
	default:
		metrics.RecordMediaUpload(false)
		return "", c.asError(resp)
	}
}

// waitForMedia polls the processing endpoint until the attachment is
// ready. Publishing is blocked until every attachment has arrived.
func (c *Client) waitForMedia(ctx context.Context, mediaID string) error {
	delay := mediaPollInitial
	for attempt := 1; attempt <= mediaPollAttempts; attempt++ {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		resp, err := c.do(ctx, http.MethodGet, "/api/v1/media/"+mediaID, nil, "")
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			return nil
		case http.StatusPartialContent:
			// Still processing.
		default:
			return &ServerError{StatusCode: resp.StatusCode}
		}

		delay *= 2
		if delay > mediaPollMax {
			delay = mediaPollMax
		}
	}
	return fmt.Errorf("media %s not ready after %d polls", mediaID, mediaPollAttempts)
}

// Publish posts a status. 429 honours Retry-After plus jitter for up to
// three attempts; 5xx backs off linearly for up to two. When a reply
// target no longer exists the status is retried once standalone:
// publishing detached beats not publishing.
func (c *Client) Publish(ctx context.Context, text string, mediaIDs []string, visibility, inReplyTo string) (*Status, error) {
	if strings.TrimSpace(text) == "" && len(mediaIDs) == 0 {
		return nil, &ValidationError{Message: entity.ErrEmptyText.Error()}
	}
	if len(mediaIDs) > entity.MaxAttachments {
		return nil, &ValidationError{Message: fmt.Sprintf("%d media attachments exceed the limit of %d", len(mediaIDs), entity.MaxAttachments)}
	}

	form := url.Values{}
	form.Set("status", text)
	if visibility != "" {
		form.Set("visibility", visibility)
	}
	if inReplyTo != "" {
		form.Set("in_reply_to_id", inReplyTo)
	}
	for _, id := range mediaIDs {
		form.Add("media_ids[]", id)
	}

	status, err := c.postStatusWithRetry(ctx, form)
	if err != nil && inReplyTo != "" && isRecordNotFound(err) {
		c.logger.Warn("reply target vanished, publishing standalone",
			slog.String("in_reply_to", inReplyTo))
		form.Del("in_reply_to_id")
		return c.postStatusWithRetry(ctx, form)
	}
	return status, err
}

func (c *Client) postStatusWithRetry(ctx context.Context, form url.Values) (*Status, error) {
	var lastErr error

	rateAttempts, serverAttempts := 0, 0
	for {
		resp, err := c.do(ctx, http.MethodPost, "/api/v1/statuses",
			strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusOK {
			var status Status
			err := json.NewDecoder(resp.Body).Decode(&status)
			_ = resp.Body.Close()
			if err != nil {
				return nil, err
			}
			return &status, nil
		}

		lastErr = c.asError(resp)

		switch apiErr := lastErr.(type) {
		case *RateLimitError:
			rateAttempts++
			if rateAttempts >= rateLimitAttempts {
				return nil, lastErr
			}
			// Retry-After plus 1–3s jitter.
			// #nosec G404 -- jitter only.
			sleep := apiErr.RetryAfter + time.Duration(1000+rand.Intn(2000))*time.Millisecond
			if err := sleepCtx(ctx, sleep); err != nil {
				return nil, err
			}
		case *ServerError:
			serverAttempts++
			if serverAttempts >= serverErrAttempts {
				return nil, lastErr
			}
			// #nosec G404 -- jitter only.
			if err := sleepCtx(ctx, time.Duration(1000+rand.Intn(2000))*time.Millisecond); err != nil {
				return nil, err
			}
		default:
			return nil, lastErr
		}
	}
}

// UpdateStatus edits a status's text. Media cannot be changed through
// this path; the edit pipeline deletes and republishes instead.
func (c *Client) UpdateStatus(ctx context.Context, statusID, text string) (*Status, error) {
	form := url.Values{}
	form.Set("status", text)

	resp, err := c.do(ctx, http.MethodPut, "/api/v1/statuses/"+statusID,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.asError(resp)
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

// DeleteStatus removes a status.
func (c *Client) DeleteStatus(ctx context.Context, statusID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/v1/statuses/"+statusID, nil, "")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.asError(resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	if err := c.rateLimiter.Allow(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.client.Do(req)
}

// asError maps a non-200 response onto the failure taxonomy. The body
// is drained so the connection can be reused.
func (c *Client) asError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	_ = resp.Body.Close()

	var envelope apiError
	_ = json.Unmarshal(raw, &envelope)
	message := envelope.Error
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &StatusNotFoundError{StatusID: message}
	case resp.StatusCode == http.StatusForbidden:
		return &EditNotAllowedError{StatusID: message}
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return &ValidationError{Message: message}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 5 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode >= 500:
		return &ServerError{StatusCode: resp.StatusCode}
	default:
		return fmt.Errorf("instance returned %d: %s", resp.StatusCode, message)
	}
}

// isRecordNotFound detects the instance's "record not found" reply
// validation failure.
func isRecordNotFound(err error) bool {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return strings.Contains(strings.ToLower(validation.Message), "record not found")
	}
	var notFound *StatusNotFoundError
	return errors.As(err, &notFound)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
