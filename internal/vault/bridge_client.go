package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DraftListingCap bounds draft listings regardless of what callers ask
// for.
const DraftListingCap = 10

// BridgeTokenProvider supplies the bearer token for bridge calls.
type BridgeTokenProvider func(ctx context.Context) (string, error)

// StaticBridgeToken adapts a fixed token into a BridgeTokenProvider.
func StaticBridgeToken(token string) BridgeTokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// BridgeClientOptions configures a BridgeClient. Zero values select
// defaults.
type BridgeClientOptions struct {
	BaseURL       string
	TokenProvider BridgeTokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// BridgeClient speaks JSON over HTTP to the provider bridge fronting the
// mailbox and social accounts; it implements MailSource, MailSender,
// DraftStore and Publisher. Calls retry on 429 and 5xx with exponential
// backoff, honoring Retry-After; OAuth and browser mechanics live in the
// bridge, never here.
type BridgeClient struct {
	baseURL       string
	tokenProvider BridgeTokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

// NewBridgeClient creates a BridgeClient.
func NewBridgeClient(opts BridgeClientOptions) *BridgeClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8765"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &BridgeClient{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

// ListUnreadImportant implements MailSource.
func (c *BridgeClient) ListUnreadImportant(ctx context.Context, max int) ([]MailMessage, error) {
	if max <= 0 {
		max = defaultInboxPageCap
	}
	var out struct {
		Messages []MailMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/mail/unread?max=%d", max), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// MarkRead implements MailSource.
func (c *BridgeClient) MarkRead(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidInput)
	}
	return c.do(ctx, http.MethodPost, "/v1/mail/mark-read", map[string]string{"id": id}, nil)
}

// Send implements MailSender.
func (c *BridgeClient) Send(ctx context.Context, mail OutboundMail) error {
	return c.do(ctx, http.MethodPost, "/v1/mail/send", mail, nil)
}

// CreateDraft implements DraftStore.
func (c *BridgeClient) CreateDraft(ctx context.Context, draft Draft) (Draft, error) {
	var out Draft
	if err := c.do(ctx, http.MethodPost, "/v1/mail/drafts", draft, &out); err != nil {
		return Draft{}, err
	}
	return out, nil
}

// ListDrafts implements DraftStore.
func (c *BridgeClient) ListDrafts(ctx context.Context, max int) ([]Draft, error) {
	if max <= 0 || max > DraftListingCap {
		max = DraftListingCap
	}
	var out struct {
		Drafts []Draft `json:"drafts"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/mail/drafts?max=%d", max), nil, &out); err != nil {
		return nil, err
	}
	return out.Drafts, nil
}

// Publish implements Publisher.
func (c *BridgeClient) Publish(ctx context.Context, post Post) error {
	return c.do(ctx, http.MethodPost, "/v1/social/posts", post, nil)
}

func (c *BridgeClient) do(ctx context.Context, method, path string, payload, out any) error {
	if c == nil {
		return fmt.Errorf("bridge client is nil")
	}
	tokenProvider := c.tokenProvider
	if tokenProvider == nil {
		return fmt.Errorf("bridge token provider is required")
	}
	token, err := tokenProvider(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("bridge token is empty")
	}
	var bodyBytes []byte
	if payload != nil {
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	url := c.baseURL + path
	correlationID := fmt.Sprintf("vault_%d", time.Now().UnixNano())

	for attempt := 0; ; attempt++ {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode bridge response: %w", err)
			}
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		errCode := ""
		errMessage := strings.TrimSpace(string(respBody))
		var parsed map[string]any
		if json.Unmarshal(respBody, &parsed) == nil {
			if code, ok := parsed["code"].(string); ok {
				errCode = code
			}
			if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
				errMessage = message
			}
		}
		if errCode != "" {
			return fmt.Errorf("bridge call failed: status=%d code=%s message=%s", resp.StatusCode, errCode, errMessage)
		}
		return fmt.Errorf("bridge call failed: status=%d message=%s", resp.StatusCode, errMessage)
	}
}

func (c *BridgeClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WebhookPublisher posts social content as one JSON document to a fixed
// URL. It deliberately does not retry: a publish that may or may not
// have landed must not be repeated by this layer.
type WebhookPublisher struct {
	url        string
	httpClient *http.Client
}

// NewWebhookPublisher creates a WebhookPublisher.
func NewWebhookPublisher(url string, httpClient *http.Client) (*WebhookPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: webhook url is required", ErrInvalidInput)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &WebhookPublisher{url: strings.TrimSpace(url), httpClient: httpClient}, nil
}

// Publish implements Publisher.
func (p *WebhookPublisher) Publish(ctx context.Context, post Post) error {
	payload, err := json.Marshal(post)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook publish failed: status=%d message=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
