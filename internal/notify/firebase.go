package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"skylark-data/internal/config"
	"skylark-data/internal/domain"
)

// Push error classes, mapped from the service's error codes. Anything
// not covered becomes a normalized failure reason string on the
// attempt record.
var (
	Misconfigured = errs.Class("push service misconfigured")
	Unregistered  = errs.Class("unregistered token")
	QuotaExceeded = errs.Class("quota exceeded")
	SendFailed    = errs.Class("send failed")
)

// Message is one push payload. Data rides in the message data map; the
// visible notification block is only attached for ios, android builds
// render from data directly.
type Message struct {
	Title     string
	Body      string
	Data      map[string]string
	OSType    string
	ShowAlert bool
}

// Pusher is the outbound push surface the dispatcher depends on.
type Pusher interface {
	// Ready reports whether credentials are present and usable. A not
	// ready pusher turns every dispatch pass into a logged no-op.
	Ready() bool
	Send(ctx context.Context, token string, msg Message) error
}

const readinessTTL = time.Minute

// FCMClient talks to the FCM HTTP v1 API. Readiness is re-checked at
// most once per minute under a lock because the credential file can be
// rotated at runtime.
type FCMClient struct {
	http      *resty.Client
	projectID string
	credPath  string
	logger    *zap.Logger

	mu        sync.Mutex
	ready     bool
	checkedAt time.Time
}

func NewFCMClient(cfg *config.PushConfig, logger *zap.Logger) *FCMClient {
	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &FCMClient{
		http:      client,
		projectID: cfg.ProjectID,
		credPath:  cfg.CredentialsPath,
		logger:    logger,
	}
}

func (c *FCMClient) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.checkedAt) < readinessTTL {
		return c.ready
	}
	c.ready = c.checkCredentials()
	c.checkedAt = time.Now()
	return c.ready
}

func (c *FCMClient) checkCredentials() bool {
	if c.projectID == "" || c.credPath == "" {
		return false
	}
	raw, err := os.ReadFile(c.credPath)
	if err != nil {
		c.logger.Warn("push credentials unreadable",
			zap.String("path", c.credPath), zap.Error(err))
		return false
	}
	var creds map[string]any
	if err := json.Unmarshal(raw, &creds); err != nil {
		c.logger.Warn("push credentials are not valid JSON",
			zap.String("path", c.credPath))
		return false
	}
	return true
}

type fcmError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *FCMClient) Send(ctx context.Context, token string, msg Message) error {
	if !c.Ready() {
		return Misconfigured.New("push credentials are not configured")
	}

	message := map[string]any{"token": token, "data": msg.Data}
	if msg.OSType == domain.AndroidAPI {
		message["android"] = map[string]any{"priority": "high"}
	} else if msg.ShowAlert {
		message["notification"] = map[string]string{"title": msg.Title, "body": msg.Body}
	}

	var failure fcmError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"message": message}).
		SetError(&failure).
		Post(fmt.Sprintf("/v1/projects/%s/messages:send", c.projectID))
	if err != nil {
		return SendFailed.Wrap(err)
	}
	if resp.IsSuccess() {
		return nil
	}

	// error codes documented at firebase.google.com/docs/reference/fcm/rest/v1/ErrorCode
	switch failure.Error.Status {
	case "UNREGISTERED", "NOT_FOUND":
		return Unregistered.New("%s", failure.Error.Message)
	case "QUOTA_EXCEEDED":
		return QuotaExceeded.New("%s", failure.Error.Message)
	}
	return SendFailed.New("%d %s: %s", resp.StatusCode(), failure.Error.Status, failure.Error.Message)
}

// NormalizeFailure collapses a send error into one of the stable
// attempt record status strings. The raw service messages observed in
// production vary too much to store directly.
func NormalizeFailure(err error) string {
	switch {
	case err == nil:
		return domain.MessageSendSuccess
	case Misconfigured.Has(err):
		return domain.MessagePushMisconfigured
	case Unregistered.Has(err):
		return domain.MessageUnregistered
	case QuotaExceeded.Has(err):
		return domain.MessageQuotaExceeded
	}

	text := err.Error()
	switch {
	case strings.Contains(text, "DOCTYPE"):
		// html error page from a proxy in front of the service
		return domain.MessageUnexpectedResponse
	case strings.Contains(text, "Unknown error while making a remote service call"):
		return domain.MessageUnknownRemoteError
	case strings.Contains(text, "Failed to establish a connection"),
		strings.Contains(text, "connection refused"):
		return domain.MessageConnectionFailed
	case strings.Contains(text, "Connection aborted"),
		strings.Contains(text, "connection reset"):
		return domain.MessageConnectionAborted
	case strings.Contains(text, "invalid_grant"):
		return domain.MessageAccountNotFound
	}
	return text
}
