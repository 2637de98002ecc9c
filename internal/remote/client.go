package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"barsync-go/config"
	"barsync-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Client delivers operations to the POS backend over HTTP.
type Client struct {
	config     config.RemoteConfig
	httpClient *http.Client
}

// NewClient creates a backend client. Per-attempt timeouts come from the
// caller's context; the transport timeout is only a hard upper bound.
func NewClient(cfg config.RemoteConfig) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// endpoints per operation type; the backend exposes one idempotent route
// per remote effect.
var opPaths = map[models.OperationType]string{
	models.OpCreateSale:    "/api/v1/sales",
	models.OpCreateSupply:  "/api/v1/supplies",
	models.OpUpdateProduct: "/api/v1/products/update",
	models.OpCreateReturn:  "/api/v1/returns",
	models.OpAddExpense:    "/api/v1/expenses",
	models.OpUpdateVenue:   "/api/v1/venues/update",
}

// Apply delivers one operation. The idempotency key is attached on every
// attempt; proxied operations go out under the proxy key with the subject
// attached, self operations under the regular key.
func (c *Client) Apply(ctx context.Context, op *models.Operation) (*Result, error) {
	path, ok := opPaths[op.Type]
	if !ok {
		return nil, &Error{Kind: KindApplicationRejected, Message: fmt.Sprintf("unsupported operation type %s", op.Type)}
	}

	apiURL, err := url.JoinPath(c.config.URL, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create API URL: %w", err)
	}

	body := struct {
		ScopeID string          `json:"scope_id"`
		Payload json.RawMessage `json:"payload"`
	}{
		ScopeID: op.ScopeID,
		Payload: json.RawMessage(op.Payload),
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", op.IdempotencyKey)

	// Fetch-key selection: a proxied operation authenticates with the
	// proxy key and names the subject it acts for; everything else uses
	// the regular key. The identity comes from the operation record, not
	// from whatever session is active at replay time.
	identity := op.Identity()
	if identity.Proxied {
		req.Header.Set("X-API-Key", c.config.ProxyAPIKey)
		req.Header.Set("X-Acting-For", identity.SubjectID)
	} else {
		req.Header.Set("X-API-Key", c.config.APIKey)
	}
	req.Header.Set("X-Actor-ID", identity.ActorID)

	log.Debugf("Delivering %s operation %s (attempt %d)", op.Type, op.ID, op.AttemptCount)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Message: err.Error()}
		}
		return nil, &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	log.Debugf("Delivery of operation %s took %s (status %d)", op.ID, time.Since(start), resp.StatusCode)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBytes, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, string(respBytes))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Duplicate {
		log.Infof("Operation %s was recognized as a duplicate by the backend", op.ID)
	}
	return &result, nil
}

// Ping checks backend reachability with a cheap request. Used by the
// network classifier's probe.
func (c *Client) Ping(ctx context.Context) error {
	apiURL, err := url.JoinPath(c.config.URL, c.config.PingPath)
	if err != nil {
		return fmt.Errorf("failed to create ping URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "HEAD", apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &Error{Kind: KindNetwork, Message: fmt.Sprintf("backend returned status %d", resp.StatusCode)}
	}
	return nil
}

// classifyStatus maps an HTTP error status onto the failure taxonomy.
func classifyStatus(status int, body string) *Error {
	msg := errorMessage(status, body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindAuthorizationDenied, Message: msg}
	case status == http.StatusRequestTimeout:
		return &Error{Kind: KindTimeout, Message: msg}
	case status == http.StatusTooManyRequests || status >= 500:
		// Overload and server faults are transient.
		return &Error{Kind: KindNetwork, Message: msg}
	default:
		// Remaining 4xx: the backend rejected the operation itself;
		// replaying the same payload cannot succeed.
		return &Error{Kind: KindApplicationRejected, Message: msg}
	}
}

// errorMessage extracts the backend's error text, falling back to the
// status code.
func errorMessage(status int, body string) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return fmt.Sprintf("backend returned status %d", status)
}
