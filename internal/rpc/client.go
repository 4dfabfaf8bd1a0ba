// Package rpc implements the CBOR-framed RPC protocol client for the
// backend. Operations are invoked as POST {base}/{OperationName} with CBOR
// request and response bodies. The client performs no retries of its own:
// the attempt header is pinned to attempt=1; max=1 and retry policy belongs
// to callers.
package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	kiroerrors "github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/logging"
)

// decMode decodes nested CBOR maps as map[string]interface{} so response
// parsing does not have to handle interface-keyed maps.
var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// DefaultBaseURL is the production RPC endpoint.
const DefaultBaseURL = "https://codewhisperer.us-east-1.amazonaws.com"

const (
	contentTypeCBOR   = "application/cbor"
	protocolMarker    = "rpc-v2-cbor"
	attemptHeader     = "attempt=1; max=1"
	suspendedErrorTag = "AccountSuspendedException"
)

// Config holds the RPC client configuration.
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is the low-level RPC transport.
type Client struct {
	cfg Config
	log *logging.Logger
}

// NewClient creates an RPC client. Zero-value config fields get production
// defaults.
func NewClient(cfg Config, logger *logging.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Client{cfg: cfg, log: logger.Component("rpc")}
}

// Response carries the decoded CBOR body plus the raw response headers.
// Headers matter because some operations deliver the session token only via
// Set-Cookie.
type Response struct {
	Body   map[string]interface{}
	Header http.Header
}

// Call invokes an operation with bearer authentication. The access token is
// sent both as a Bearer header and as the identity cookie; the backend
// accepts either and both are sent for compatibility.
func (c *Client) Call(ctx context.Context, operation string, body map[string]interface{}, accessToken, idp string) (map[string]interface{}, error) {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+accessToken)
	hdr.Set("Cookie", fmt.Sprintf("Idp=%s; AccessToken=%s", idp, accessToken))

	resp, err := c.Do(ctx, operation, body, hdr)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Do invokes an operation with caller-supplied auth headers. Used by the
// cookie-based refresh and exchange paths that do not speak Bearer.
func (c *Client) Do(ctx context.Context, operation string, body map[string]interface{}, extra http.Header) (*Response, error) {
	if body == nil {
		body = map[string]interface{}{}
	}
	payload, err := cbor.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", operation, err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + operation
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", contentTypeCBOR)
	req.Header.Set("Content-Type", contentTypeCBOR)
	req.Header.Set("smithy-protocol", protocolMarker)
	req.Header.Set("amz-sdk-invocation-id", uuid.NewString())
	req.Header.Set("amz-sdk-request", attemptHeader)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for key, values := range extra {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classified := classifyError(resp.StatusCode, raw)
		c.log.Debug("rpc call failed",
			"operation", operation,
			"status", resp.StatusCode,
			"error", classified.Error(),
			"correlation_id", logging.GetCorrelationID(ctx),
		)
		return nil, classified
	}

	var decoded map[string]interface{}
	if err := decMode.Unmarshal(raw, &decoded); err != nil {
		return nil, &kiroerrors.ErrProtocol{
			HTTPStatus: resp.StatusCode,
			Message:    fmt.Sprintf("malformed cbor response for %s: %v", operation, err),
		}
	}

	c.log.Debug("rpc call done",
		"operation", operation,
		"correlation_id", logging.GetCorrelationID(ctx),
	)
	return &Response{Body: decoded, Header: resp.Header}, nil
}

// classifyError maps a non-2xx response into the domain error taxonomy.
// The CBOR error body carries a namespaced type string; the namespace
// prefix is stripped before matching. HTTP 423 and suspension error types
// are terminal Banned signals, 401 is a recoverable authorization expiry.
func classifyError(status int, raw []byte) error {
	errorType, message := decodeErrorBody(raw)
	if message == "" {
		message = fmt.Sprintf("HTTP %d", status)
	}

	if status == http.StatusLocked || strings.Contains(errorType, suspendedErrorTag) {
		return &kiroerrors.ErrBanned{
			HTTPStatus: status,
			ErrorType:  errorType,
			Message:    message,
		}
	}
	if status == http.StatusUnauthorized {
		return &kiroerrors.ErrAuthorizationExpired{Message: message}
	}
	return &kiroerrors.ErrProtocol{
		HTTPStatus: status,
		ErrorType:  errorType,
		Message:    message,
	}
}

func decodeErrorBody(raw []byte) (errorType, message string) {
	if len(raw) == 0 {
		return "", ""
	}

	var decoded map[string]interface{}
	if err := decMode.Unmarshal(raw, &decoded); err != nil {
		return "", ""
	}

	if t, ok := decoded["__type"].(string); ok {
		errorType = stripNamespace(t)
	} else if t, ok := decoded["code"].(string); ok {
		errorType = stripNamespace(t)
	}

	for _, key := range []string{"message", "Message", "reason"} {
		if m, ok := decoded[key].(string); ok && m != "" {
			message = m
			break
		}
	}
	return errorType, message
}

// stripNamespace drops a smithy-style "com.example.service#" prefix.
func stripNamespace(errorType string) string {
	if idx := strings.LastIndex(errorType, "#"); idx >= 0 {
		return errorType[idx+1:]
	}
	return errorType
}
