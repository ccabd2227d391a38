// Package transport is the single outbound HTTP path of the client. It
// attaches bearer credentials at request time, normalizes transport and
// server failures into the error taxonomy, and owns the reactive 401 refresh
// cycle: at most one refresh runs at a time, and every request that hits a
// 401 while it is in flight waits for its outcome instead of starting
// another.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/civickit/go-civic-client/api"
	"github.com/civickit/go-civic-client/internal/config"
	apperrors "github.com/civickit/go-civic-client/internal/errors"
	"github.com/civickit/go-civic-client/token"
)

const refreshKey = "token-refresh"

// Client wraps an *http.Client with the backend's conventions. The access
// token is never cached on the Client; it is read from the store per request
// so a rotation is picked up transparently.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      *token.Store
	log        zerolog.Logger
	instanceID string

	refreshGroup singleflight.Group
}

// Option defines a function type to modify the Client instance.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client (primarily for testing).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBaseURL overrides the configured base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// New creates a Client against the configured base URL.
func New(cfg config.Config, store *token.Store, logger zerolog.Logger, options ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(cfg.GetBaseURL(), "/"),
		httpClient: &http.Client{Timeout: cfg.GetRequestTimeout()},
		store:      store,
		log:        logger,
		instanceID: uuid.New().String(),
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

// Call performs an authenticated request and decodes the success envelope's
// data payload.
func Call[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	raw, err := c.do(ctx, method, path, body, true)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope[T](raw)
}

// CallPublic performs a request on the unauthenticated path. The
// Authorization header is never attached here, so a stale token cannot
// pollute a public call.
func CallPublic[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	raw, err := c.do(ctx, method, path, body, false)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope[T](raw)
}

// CallNoData performs an authenticated request whose success envelope carries
// no data payload (e.g. logout).
func CallNoData(ctx context.Context, c *Client, method, path string, body any) error {
	raw, err := c.do(ctx, method, path, body, true)
	if err != nil {
		return err
	}
	var env api.Envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return apperrors.Wrap(apperrors.KindServer, err, "malformed response body")
	}
	if !env.Success {
		return apperrors.Server(env.ErrorMessage(), env.Field, env.Code)
	}
	return nil
}

// Refresh forces a token refresh, sharing any cycle already in flight. Used
// by the proactive refresh path; the reactive 401 path goes through the same
// gate.
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.refreshAccessToken(ctx)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any, authenticated bool) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "[Client.do] marshal request body")
		}
		payload = data
	}

	bearer := ""
	if authenticated {
		bearer = c.store.AccessToken()
	}

	resp, raw, err := c.roundTrip(ctx, method, path, payload, bearer)
	if err != nil {
		return nil, err
	}

	if authenticated && resp.StatusCode == http.StatusUnauthorized {
		newToken, err := c.refreshAccessToken(ctx)
		if err != nil {
			return nil, err
		}
		c.log.Debug().Str("path", path).Msg("replaying request after token refresh")
		resp, raw, err = c.roundTrip(ctx, method, path, payload, newToken)
		if err != nil {
			return nil, err
		}
		// The replayed request never re-enters the refresh cycle; a second
		// 401 with a fresh token is a server rejection, not an expiry.
	}

	return c.checkStatus(resp, raw)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, bearer string) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Client.roundTrip] http.NewRequestWithContext")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	req.Header.Set("X-Client-ID", c.instanceID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.KindNetwork, err, "no response from server")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.KindNetwork, err, "failed reading response body")
	}
	return resp, raw, nil
}

// refreshAccessToken runs at most one refresh cycle at a time; concurrent
// callers block on the shared flight and settle with its outcome.
func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	v, err, shared := c.refreshGroup.Do(refreshKey, func() (interface{}, error) {
		return c.refreshTokens(ctx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.log.Debug().Msg("joined in-flight token refresh")
	}
	return v.(string), nil
}

func (c *Client) refreshTokens(ctx context.Context) (string, error) {
	refreshToken := c.store.RefreshToken()
	if refreshToken == "" {
		return "", apperrors.New(apperrors.KindNoRefreshToken, "no refresh token stored")
	}

	payload, err := json.Marshal(api.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", errors.Wrap(err, "[Client.refreshTokens] marshal refresh request")
	}

	// The refresh call itself goes over the public path; sending a dead
	// access token here would only invite another 401.
	resp, raw, err := c.roundTrip(ctx, http.MethodPost, api.PathRefresh, payload, "")
	if err != nil {
		return "", err
	}

	body, err := c.checkStatus(resp, raw)
	if err != nil {
		c.clearOnRejection(err)
		return "", err
	}
	data, err := decodeEnvelope[api.TokensData](body)
	if err != nil {
		c.clearOnRejection(err)
		return "", err
	}

	if err := c.store.SetTokens(data.Tokens); err != nil {
		return "", err
	}
	c.log.Info().Msg("access token refreshed")
	return data.Tokens.AccessToken, nil
}

// clearOnRejection wipes the stored session when the backend rejected the
// refresh token. Stale tokens left behind would trigger the same rejection on
// every subsequent request. Network failures keep the store intact: a
// connectivity blip must not destroy a recoverable session.
func (c *Client) clearOnRejection(err error) {
	if apperrors.KindOf(err) != apperrors.KindServer {
		return
	}
	c.log.Warn().Err(err).Msg("refresh token rejected, clearing stored session")
	c.store.ClearAll()
}

func (c *Client) checkStatus(resp *http.Response, raw []byte) ([]byte, error) {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return raw, nil
	}
	var env api.Envelope[json.RawMessage]
	if json.Unmarshal(raw, &env) == nil && env.ErrorMessage() != "" {
		return nil, apperrors.Server(env.ErrorMessage(), env.Field, env.Code)
	}
	return nil, apperrors.New(apperrors.KindServer, fmt.Sprintf("request failed with status %d", resp.StatusCode))
}

func decodeEnvelope[T any](raw []byte) (*T, error) {
	var env api.Envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperrors.Wrap(apperrors.KindServer, err, "malformed response body")
	}
	if !env.Success {
		return nil, apperrors.Server(env.ErrorMessage(), env.Field, env.Code)
	}
	if env.Data == nil {
		return nil, apperrors.New(apperrors.KindServer, "response envelope missing data")
	}
	return env.Data, nil
}
