package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sponsor/internal/relay"
	apperrors "github.com/charlesng35/sponsor/pkg/errors"
	"github.com/charlesng35/sponsor/pkg/response"
)

// TargetResolver maps a configured target name to a registry base URL.
type TargetResolver interface {
	Target(name string) (string, bool)
	TargetNames() []string
}

// RelayHandler exposes the caller-side relay service.
type RelayHandler struct {
	client  *relay.Client
	targets TargetResolver
}

// NewRelayHandler constructs a RelayHandler.
func NewRelayHandler(client *relay.Client, targets TargetResolver) (*RelayHandler, error) {
	if client == nil {
		return nil, errors.New("relay handler: client is required")
	}
	if targets == nil {
		return nil, errors.New("relay handler: targets are required")
	}
	return &RelayHandler{client: client, targets: targets}, nil
}

// Greet handles GET /api/greet?name=.
func (h *RelayHandler) Greet(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"message": fmt.Sprintf("Hello, %s!", c.Query("name"))})
}

// WhoAmI handles GET /api/whoami.
func (h *RelayHandler) WhoAmI(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"principal": caller(c),
		"relay":     h.client.Principal(),
	})
}

// Targets handles GET /api/targets.
func (h *RelayHandler) Targets(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"targets": h.targets.TargetNames()})
}

// Verify handles POST /api/relay/:target/verify.
func (h *RelayHandler) Verify(c *gin.Context) {
	name, url, ok := h.resolve(c)
	if !ok {
		return
	}

	controller, err := h.client.VerifyRemoteControl(requestContext(c), url)
	if err != nil {
		fail(c, relayError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"target": name, "controller": controller})
}

// LogUsage handles POST /api/relay/:target/usage/:key.
func (h *RelayHandler) LogUsage(c *gin.Context) {
	name, url, ok := h.resolve(c)
	if !ok {
		return
	}

	key := c.Param("key")
	if err := h.client.RelayUsageLog(requestContext(c), url, key); err != nil {
		fail(c, relayError(err))
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"target": name, "key": key})
}

func (h *RelayHandler) resolve(c *gin.Context) (string, string, bool) {
	name := strings.TrimSpace(c.Param("target"))
	url, ok := h.targets.Target(name)
	if !ok {
		fail(c, apperrors.ErrNotFound.WithInternal(fmt.Errorf("unknown relay target %q", name)))
		return "", "", false
	}
	return name, url, true
}

func relayError(err error) error {
	var remote *relay.RemoteError
	switch {
	case errors.Is(err, relay.ErrTransportFailure):
		return apperrors.ErrBadGateway.WithInternal(err)
	case errors.As(err, &remote):
		return apperrors.New("REMOTE_REFUSED", "Target refused the call: "+remote.Message, http.StatusBadGateway).WithInternal(err)
	default:
		return err
	}
}
