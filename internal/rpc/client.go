package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kuitang/persona-notes/internal/auth"
	"github.com/kuitang/persona-notes/internal/errs"
	"github.com/kuitang/persona-notes/internal/obs"
)

// Client calls methods on a peer service.
type Client struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
}

// NewClient creates a Client for the service root at baseURL. internalKey,
// when set, is sent on every call so the peer honours system contexts.
func NewClient(baseURL, internalKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		internalKey: internalKey,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Call invokes service.method with params on behalf of cc and decodes the
// result into out, which may be nil. Errors returned by the peer keep their
// code, message and field.
func (c *Client) Call(ctx context.Context, service, method string, cc auth.CallerContext, out any, params ...any) error {
	encoded := make(Params, 0, len(params))
	for _, param := range params {
		raw, err := json.Marshal(param)
		if err != nil {
			return errs.Wrap(errs.Internal, "failed to encode params", err)
		}
		encoded = append(encoded, raw)
	}
	body, err := json.Marshal(Request{Method: method, Params: encoded, Context: cc})
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to encode request", err)
	}

	endpoint := c.baseURL + "/rpc/" + url.PathEscape(service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.internalKey != "" {
		req.Header.Set(auth.InternalKeyHeader, c.internalKey)
	}
	if requestID := obs.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set(obs.RequestIDHeader, requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.Unavailable, fmt.Sprintf("%s.%s unreachable", service, method), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return errs.Wrap(errs.Unavailable, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var failed errorBody
		if json.Unmarshal(payload, &failed) != nil || failed.Error.Code == "" {
			return errs.New(errs.Internal, fmt.Sprintf("%s.%s returned status %d", service, method, resp.StatusCode))
		}
		return &errs.Error{Code: failed.Error.Code, Message: failed.Error.Message, Field: failed.Error.Field}
	}

	var ok struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(payload, &ok); err != nil {
		return errs.Wrap(errs.Internal, "malformed response", err)
	}
	if out == nil || isNull(ok.Result) {
		return nil
	}
	if err := json.Unmarshal(ok.Result, out); err != nil {
		return errs.Wrap(errs.Internal, "malformed result", err)
	}
	return nil
}
