// Package client implements the license verification state machine and its HTTP transport.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/keyledger/internal/convert"
	"github.com/and161185/keyledger/internal/model"
)

// DefaultTimeout bounds one round-trip to the license server.
const DefaultTimeout = 10 * time.Second

const (
	apiPrefix     = "/api/v1"
	requestIDHdr  = "X-Request-ID"
	maxReplyBytes = 64 << 10
	jsonMediaType = "application/json"
)

// FailureKind classifies a failed round-trip.
type FailureKind int

const (
	// FailureMalformed covers unparsable or incomplete replies and unexpected statuses.
	FailureMalformed FailureKind = iota
	FailureBadRequest
	FailureNotFound
	FailureRateLimited
	FailureServer
	FailureNetwork
)

func (k FailureKind) String() string {
	switch k {
	case FailureBadRequest:
		return "bad_request"
	case FailureNotFound:
		return "not_found"
	case FailureRateLimited:
		return "rate_limited"
	case FailureServer:
		return "server_error"
	case FailureNetwork:
		return "network"
	default:
		return "malformed"
	}
}

// Failure is returned by API calls that did not produce a usable reply.
type Failure struct {
	Kind    FailureKind
	Status  int    // HTTP status, 0 when no response was received
	Message string // server-provided message, if any
	Err     error
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString("license server: ")
	b.WriteString(f.Kind.String())
	if f.Status != 0 {
		fmt.Fprintf(&b, " (%d)", f.Status)
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf extracts the FailureKind of err. Errors that are not *Failure count as network failures.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureNetwork
}

// API is the ledger surface the verification state machine depends on.
type API interface {
	Activate(ctx context.Context, key string) (model.Activation, error)
	Status(ctx context.Context) (model.ActivationStatus, error)
	CPUCores(ctx context.Context) (model.CPUInfo, error)
}

// HTTPClient talks to the license server over JSON/HTTP.
type HTTPClient struct {
	base    string
	hc      *http.Client
	timeout time.Duration
	log     *zap.Logger
}

var _ API = (*HTTPClient)(nil)

// NewHTTPClient constructs a client for baseURL. A non-positive timeout selects DefaultTimeout.
func NewHTTPClient(baseURL string, timeout time.Duration, log *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPClient{
		base:    strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{},
		timeout: timeout,
		log:     log,
	}
}

// Activate submits a key. A duplicate submission is a success with AlreadyActive set.
func (c *HTTPClient) Activate(ctx context.Context, key string) (model.Activation, error) {
	body, err := json.Marshal(convert.ActivationRequest{LicenseKey: key})
	if err != nil {
		return model.Activation{}, &Failure{Kind: FailureMalformed, Err: err}
	}
	var resp convert.ActivationResponse
	if err := c.do(ctx, http.MethodPost, "/license/activation", body, &resp); err != nil {
		return model.Activation{}, err
	}
	a, err := convert.FromActivationResponse(resp)
	if err != nil {
		return model.Activation{}, &Failure{Kind: FailureMalformed, Status: http.StatusOK, Err: err}
	}
	return a, nil
}

// Status fetches the deployment record. A 404 reply is reported as Found=false.
func (c *HTTPClient) Status(ctx context.Context) (model.ActivationStatus, error) {
	var resp convert.StatusResponse
	err := c.do(ctx, http.MethodGet, "/license/status", nil, &resp)
	if err != nil && KindOf(err) == FailureNotFound {
		return model.ActivationStatus{}, nil
	}
	if err != nil {
		return model.ActivationStatus{}, err
	}
	st, err := convert.FromStatusResponse(resp)
	if err != nil {
		return model.ActivationStatus{}, &Failure{Kind: FailureMalformed, Status: http.StatusOK, Err: err}
	}
	return st, nil
}

// CPUCores asks the server for its core count.
func (c *HTTPClient) CPUCores(ctx context.Context) (model.CPUInfo, error) {
	var resp convert.CPUCoresResponse
	if err := c.do(ctx, http.MethodGet, "/system/cpu-cores", nil, &resp); err != nil {
		return model.CPUInfo{}, err
	}
	info, err := convert.FromCPUCoresResponse(resp)
	if err != nil {
		return model.CPUInfo{}, &Failure{Kind: FailureMalformed, Status: http.StatusOK, Err: err}
	}
	return info, nil
}

// do performs one bounded round-trip and decodes a 200 reply into out.
func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+apiPrefix+path, rd)
	if err != nil {
		return &Failure{Kind: FailureNetwork, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", jsonMediaType)
	}
	req.Header.Set("Accept", jsonMediaType)
	reqID := uuid.Must(uuid.NewV4()).String()
	req.Header.Set(requestIDHdr, reqID)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Debug("license server unreachable", zap.String("path", path), zap.Error(err))
		return &Failure{Kind: FailureNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return &Failure{Kind: FailureNetwork, Status: resp.StatusCode, Err: err}
	}
	c.log.Debug("license server reply",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
		zap.String("request_id", reqID),
	)

	if resp.StatusCode != http.StatusOK {
		var er convert.ErrorResponse
		_ = json.Unmarshal(raw, &er)
		return &Failure{Kind: kindForStatus(resp.StatusCode), Status: resp.StatusCode, Message: er.Message}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Failure{Kind: FailureMalformed, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func kindForStatus(code int) FailureKind {
	switch {
	case code == http.StatusBadRequest:
		return FailureBadRequest
	case code == http.StatusNotFound:
		return FailureNotFound
	case code == http.StatusTooManyRequests:
		return FailureRateLimited
	case code >= 500:
		return FailureServer
	default:
		return FailureMalformed
	}
}
