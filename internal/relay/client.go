package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/sponsor/internal/auth"
	"github.com/charlesng35/sponsor/internal/models"
	"github.com/charlesng35/sponsor/pkg/logger"
	"github.com/charlesng35/sponsor/pkg/metrics"
	"github.com/charlesng35/sponsor/pkg/response"
)

const (
	// DefaultTimeout bounds a single remote call when no timeout is configured.
	DefaultTimeout = 10 * time.Second

	// Audience is stamped on every token the relay mints.
	Audience = "sponsor"

	maxResponseBytes = 1 << 20

	opVerify = "verify_remote_control"
	opUsage  = "relay_usage_log"
)

// ErrTransportFailure reports that a remote call could not complete: the dial
// failed, the call timed out, or the target answered with something other than
// a registry envelope. It is never reported as a negative answer.
var ErrTransportFailure = errors.New("relay: transport failure")

// RemoteError is a well-formed refusal returned by the target registry.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("relay: remote refused (%d %s): %s", e.Status, e.Code, e.Message)
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled cleanhttp client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each remote call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client performs the caller side of the delegated verification protocol
// against sponsor registries. Each call carries a token minted for the relay's
// own principal.
type Client struct {
	http      *http.Client
	tokens    *iauth.JWTService
	principal string
	timeout   time.Duration
	log       *zap.Logger
}

// NewClient constructs a relay client that authenticates as principal.
func NewClient(tokens *iauth.JWTService, principal string, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("relay: jwt service is required")
	}
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return nil, errors.New("relay: principal is required")
	}

	c := &Client{
		http:      cleanhttp.DefaultPooledClient(),
		tokens:    tokens,
		principal: principal,
		timeout:   DefaultTimeout,
		log:       logger.WithModule("relay"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Principal returns the identity the client presents to targets.
func (c *Client) Principal() string {
	return c.principal
}

// VerifyRemoteControl asks target whether the relay's principal is one of its
// controllers.
func (c *Client) VerifyRemoteControl(ctx context.Context, target string) (bool, error) {
	env, err := c.call(ctx, opVerify, http.MethodGet, target, "/api/controller")
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			metrics.RelayCalls.WithLabelValues(opVerify, "remote_denied").Inc()
		}
		return false, err
	}

	var payload struct {
		Controller *bool `json:"controller"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Controller == nil {
		metrics.RelayCalls.WithLabelValues(opVerify, "transport_failure").Inc()
		return false, fmt.Errorf("%w: unexpected controller payload", ErrTransportFailure)
	}

	metrics.RelayCalls.WithLabelValues(opVerify, "ok").Inc()
	c.log.Info("remote control verified",
		zap.String("target", target),
		zap.String("principal", c.principal),
		zap.Bool("controller", *payload.Controller),
	)
	return *payload.Controller, nil
}

// RelayUsageLog logs one use of key on target. Whether the target logged the
// use or refused it, the outcome is only recorded locally. Transport failures
// are returned.
func (c *Client) RelayUsageLog(ctx context.Context, target, key string) error {
	path := "/api/params/" + url.PathEscape(key) + "/usage"

	env, err := c.call(ctx, opUsage, http.MethodPost, target, path)
	var remote *RemoteError
	switch {
	case errors.As(err, &remote):
		metrics.RelayCalls.WithLabelValues(opUsage, "remote_denied").Inc()
		c.log.Info("usage log refused by target",
			zap.String("target", target),
			zap.String("key", key),
			zap.String("code", remote.Code),
		)
		return nil
	case err != nil:
		return err
	}

	var payload struct {
		Param models.ParamRecord `json:"param"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		c.log.Debug("usage log payload not decoded", zap.Error(err))
	}

	metrics.RelayCalls.WithLabelValues(opUsage, "ok").Inc()
	c.log.Info("usage logged on target",
		zap.String("target", target),
		zap.String("key", key),
		zap.Uint32("count", payload.Param.Count),
	)
	return nil
}

// call issues one request and returns the decoded success envelope. Refusals
// come back as *RemoteError; everything else that prevents an envelope from
// arriving wraps ErrTransportFailure, as does a 401 for the relay's own token.
func (c *Client) call(ctx context.Context, op, method, target, path string) (*response.Envelope, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	base := strings.TrimRight(strings.TrimSpace(target), "/")
	if base == "" {
		return nil, errors.New("relay: target is required")
	}

	token, err := c.tokens.IssueIdentityToken(iauth.IdentityTokenInput{
		Principal: c.principal,
		Audience:  []string{Audience},
	})
	if err != nil {
		metrics.RelayCalls.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("relay: mint identity token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		metrics.RelayCalls.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportFailure(op, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportFailure(op, target, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, c.transportFailure(op, target, fmt.Errorf("status %d", resp.StatusCode))
	}
	// The target never evaluated the call, so this is not a refusal.
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, c.transportFailure(op, target, errors.New("status 401: identity token rejected"))
	}

	var env response.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, c.transportFailure(op, target, fmt.Errorf("status %d: response is not an envelope", resp.StatusCode))
	}

	switch {
	case env.Success && resp.StatusCode < http.StatusMultipleChoices:
		return &env, nil
	case !env.Success && env.Error != nil:
		return nil, &RemoteError{Status: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
	default:
		return nil, c.transportFailure(op, target, fmt.Errorf("status %d: inconsistent envelope", resp.StatusCode))
	}
}

func (c *Client) transportFailure(op, target string, err error) error {
	metrics.RelayCalls.WithLabelValues(op, "transport_failure").Inc()
	c.log.Warn("remote call failed",
		zap.String("operation", op),
		zap.String("target", target),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s: %v", ErrTransportFailure, target, err)
}
