// Package vk implements the outbound VK community API client: message send
// and read receipts, cropped-message refetch, the photo upload pipeline, and
// entity lookups. Transient network failures retry below this layer; VK-level
// rate limiting (error_code 6) retries here behind a shared limiter.
package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	coreconfig "github.com/m3rciful/artbot/core/config"
	"github.com/m3rciful/artbot/core/logger"
)

const (
	baseURL = "https://api.vk.com/method/"

	// errCodeTooMany is VK's "too many requests per second" error.
	errCodeTooMany = 6

	rateLimitAttempts = 3
	rateLimitBackoff  = time.Second
)

var tokenRe = regexp.MustCompile(`access_token=[^&\s]+`)

// APIError is a VK-level error returned inside an HTTP 200 body.
type APIError struct {
	Method  string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk %s: api error %d: %s", e.Method, e.Code, e.Message)
}

// Client talks to the VK community API.
type Client struct {
	token   string
	version string
	httpc   *http.Client
	limiter *rate.Limiter
}

// NewClient builds a Client from configuration. The limiter keeps the process
// under VK's 20 req/s group-token ceiling; intervalMS overrides the spacing
// between calls when positive.
func NewClient(cfg coreconfig.VKConfig, intervalMS int) *Client {
	interval := 60 * time.Millisecond
	if intervalMS > 0 {
		interval = time.Duration(intervalMS) * time.Millisecond
	}
	return &Client{
		token:   cfg.Token,
		version: cfg.Version,
		httpc:   BuildHTTPClient(),
		limiter: rate.NewLimiter(rate.Every(interval), 5),
	}
}

// call performs one VK API method call, decoding the "response" envelope into
// out. Rate-limit errors are retried with a fixed backoff; other VK errors
// are returned as *APIError.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.token)
	params.Set("v", c.version)

	var lastErr error
	for attempt := 1; attempt <= rateLimitAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("vk %s: %w", method, err)
		}

		start := time.Now()
		body, err := c.post(ctx, method, params)
		if err != nil {
			return fmt.Errorf("vk %s: %w", method, SanitizeError(err))
		}

		var envelope struct {
			Response json.RawMessage `json:"response"`
			Error    *struct {
				Code    int    `json:"error_code"`
				Message string `json:"error_msg"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("vk %s: decode envelope: %w", method, err)
		}

		if envelope.Error != nil {
			apiErr := &APIError{Method: method, Code: envelope.Error.Code, Message: envelope.Error.Message}
			if apiErr.Code == errCodeTooMany && attempt < rateLimitAttempts {
				lastErr = apiErr
				logger.Warn(ctx, "vk", "api.rate_limited",
					slog.String("method", method),
					slog.Int("attempts", attempt),
					slog.Duration("backoff", rateLimitBackoff),
				)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(rateLimitBackoff):
				}
				continue
			}
			return apiErr
		}

		if logger.ShouldSampleDebug() {
			logger.Debug(ctx, "vk", "api.call",
				slog.String("method", method),
				slog.Duration("duration", logger.Took(start)),
			)
		}

		if out != nil {
			if err := json.Unmarshal(envelope.Response, out); err != nil {
				return fmt.Errorf("vk %s: decode response: %w", method, err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, method string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+method, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

// SendMessage delivers an outgoing reply. A uuid-derived random_id serves as
// the deduplication token, so collaborator-level retries cannot double-send.
func (c *Client) SendMessage(ctx context.Context, out OutboundMessage) (int64, error) {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(out.PeerID, 10))
	params.Set("message", out.Text)
	params.Set("random_id", strconv.FormatUint(uint64(uuid.New().ID()), 10))
	if out.Attachment != "" {
		params.Set("attachment", out.Attachment)
	}
	if out.Keyboard != "" {
		params.Set("keyboard", out.Keyboard)
	}
	if out.ForwardMessages != "" {
		params.Set("forward_messages", out.ForwardMessages)
	}

	var messageID int64
	if err := c.call(ctx, "messages.send", params, &messageID); err != nil {
		return 0, err
	}
	return messageID, nil
}

// MarkRead marks the peer's conversation as read.
func (c *Client) MarkRead(ctx context.Context, peerID int64) error {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(peerID, 10))
	return c.call(ctx, "messages.markAsRead", params, nil)
}

// FetchMessage re-reads a message by id; used when the webhook event arrives
// cropped and the attachment list is incomplete.
func (c *Client) FetchMessage(ctx context.Context, messageID int64) (*Message, error) {
	params := url.Values{}
	params.Set("message_ids", strconv.FormatInt(messageID, 10))

	var resp struct {
		Count int       `json:"count"`
		Items []Message `json:"items"`
	}
	if err := c.call(ctx, "messages.getById", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("vk messages.getById: message %d not found", messageID)
	}
	return &resp.Items[0], nil
}

// GroupsInfo resolves community profiles by id or screen name.
func (c *Client) GroupsInfo(ctx context.Context, ids []string) ([]GroupInfo, error) {
	params := url.Values{}
	params.Set("group_ids", strings.Join(ids, ","))
	params.Set("fields", "members_count")

	var groups []GroupInfo
	if err := c.call(ctx, "groups.getById", params, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// UsersInfo resolves user profiles by id.
func (c *Client) UsersInfo(ctx context.Context, ids []int64) ([]UserInfo, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.FormatInt(id, 10)
	}
	params := url.Values{}
	params.Set("user_ids", strings.Join(strs, ","))
	params.Set("fields", "sex")

	var users []UserInfo
	if err := c.call(ctx, "users.get", params, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Admins lists the community's managers via a server-side execute script, the
// only way to resolve the group id and its manager list in one round trip.
func (c *Client) Admins(ctx context.Context) ([]Manager, error) {
	const code = `
var group_id = API.groups.getById()[0].id;
var admins = API.groups.getMembers({"group_id": group_id, "filter": "managers"});
return admins.items;`

	params := url.Values{}
	params.Set("code", code)

	var managers []Manager
	if err := c.call(ctx, "execute", params, &managers); err != nil {
		return nil, err
	}
	return managers, nil
}

// WallPost publishes a post on the community wall and returns its id.
func (c *Client) WallPost(ctx context.Context, ownerID int64, text, attachment string) (int64, error) {
	params := url.Values{}
	params.Set("owner_id", strconv.FormatInt(-ownerID, 10))
	params.Set("from_group", "1")
	params.Set("message", text)
	if attachment != "" {
		params.Set("attachments", attachment)
	}

	var resp struct {
		PostID int64 `json:"post_id"`
	}
	if err := c.call(ctx, "wall.post", params, &resp); err != nil {
		return 0, err
	}
	return resp.PostID, nil
}

// SanitizeError strips the access token from error text before it reaches logs.
func SanitizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	cleaned := tokenRe.ReplaceAllString(msg, "access_token=<redacted>")
	if cleaned == msg {
		return err
	}
	return fmt.Errorf("%s", cleaned)
}
