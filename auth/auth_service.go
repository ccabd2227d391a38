// Package auth orchestrates the account operations against the backend
// contract. The service is stateless: everything it knows lives in the token
// store, and every method is a straight sequence of call, validate, persist,
// report.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/civickit/go-civic-client/api"
	"github.com/civickit/go-civic-client/internal/config"
	"github.com/civickit/go-civic-client/token"
	"github.com/civickit/go-civic-client/transport"
)

// Deps holds all dependencies for the Service.
type Deps struct {
	Client *transport.Client // Outbound HTTP path
	Store  *token.Store      // Persisted session record
}

// Service runs register/login/logout/refresh/verify against the backend.
type Service struct {
	deps             Deps
	log              zerolog.Logger
	refreshThreshold time.Duration
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithRefreshThreshold overrides the proactive-refresh threshold.
func WithRefreshThreshold(threshold time.Duration) ServiceOption {
	return func(s *Service) {
		s.refreshThreshold = threshold
	}
}

// NewService initializes a new Service with required dependencies.
func NewService(deps Deps, cfg config.Config, logger zerolog.Logger, options ...ServiceOption) (*Service, error) {
	if deps.Client == nil {
		return nil, errors.New("[NewService] transport client is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[NewService] token store is required")
	}

	service := &Service{
		deps:             deps,
		log:              logger,
		refreshThreshold: cfg.GetRefreshThreshold(),
	}
	for _, opt := range options {
		opt(service)
	}
	return service, nil
}

// Result is the composed outcome of a successful register or login.
type Result struct {
	User   api.User
	Tokens api.TokenPair
}

// Register creates an account and persists the minted session. A storage
// write failure aborts the operation; the caller must not treat the session
// as established.
func (s *Service) Register(ctx context.Context, req api.RegisterRequest) (*Result, error) {
	data, err := transport.CallPublic[api.AuthData](ctx, s.deps.Client, http.MethodPost, api.PathRegister, req)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Register] register request")
	}
	if err := s.persistSession(data); err != nil {
		return nil, errors.Wrap(err, "[Service.Register] persist session")
	}
	s.log.Info().Str("email", data.User.Email).Msg("account registered")
	return &Result{User: data.User, Tokens: data.Tokens}, nil
}

// Login authenticates credentials and persists the minted session.
func (s *Service) Login(ctx context.Context, req api.LoginRequest) (*Result, error) {
	data, err := transport.CallPublic[api.AuthData](ctx, s.deps.Client, http.MethodPost, api.PathLogin, req)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Login] login request")
	}
	if err := s.persistSession(data); err != nil {
		return nil, errors.Wrap(err, "[Service.Login] persist session")
	}
	s.log.Info().Str("email", data.User.Email).Msg("logged in")
	return &Result{User: data.User, Tokens: data.Tokens}, nil
}

// Logout notifies the server best-effort and always clears the local session.
// The signature has no error on purpose: logout cannot fail locally, even
// with zero connectivity.
func (s *Service) Logout(ctx context.Context) {
	defer s.deps.Store.ClearAll()

	if err := transport.CallNoData(ctx, s.deps.Client, http.MethodPost, api.PathLogout, nil); err != nil {
		s.log.Warn().Err(err).Msg("server logout failed, clearing local session anyway")
		return
	}
	s.log.Info().Msg("logged out")
}

// Refresh exchanges the stored refresh token for a new token pair. On server
// rejection the store is already cleared by the transport before the error
// reaches us; stale tokens must never survive a failed refresh.
func (s *Service) Refresh(ctx context.Context) error {
	if err := s.deps.Client.Refresh(ctx); err != nil {
		return errors.Wrap(err, "[Service.Refresh] token refresh")
	}
	return nil
}

// CurrentUser fetches the profile from the server and re-persists it, so the
// cached copy tracks server-side changes.
func (s *Service) CurrentUser(ctx context.Context) (*api.User, error) {
	data, err := transport.Call[api.UserData](ctx, s.deps.Client, http.MethodGet, api.PathCurrentUser, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.CurrentUser] fetch profile")
	}
	if err := s.deps.Store.SetUserData(&data.User); err != nil {
		return nil, errors.Wrap(err, "[Service.CurrentUser] persist profile")
	}
	return &data.User, nil
}

// CachedUser returns the locally cached profile without touching the
// network, or nil when none is stored.
func (s *Service) CachedUser() *api.User {
	return s.deps.Store.UserData()
}

// VerifySession determines whether a usable session exists. It never returns
// an error: every failure mode means "no session".
//
// No stored tokens: false, without touching the network. Stored but expired
// token: true only if a silent refresh succeeds. Otherwise the profile fetch
// doubles as a liveness check.
func (s *Service) VerifySession(ctx context.Context) bool {
	if !s.deps.Store.HasStoredTokens() {
		return false
	}
	if s.deps.Store.IsTokenExpired() {
		if err := s.Refresh(ctx); err != nil {
			s.log.Debug().Err(err).Msg("silent refresh failed during session verification")
			return false
		}
		return true
	}
	if _, err := s.CurrentUser(ctx); err != nil {
		s.log.Debug().Err(err).Msg("session liveness check failed")
		return false
	}
	return true
}

// ShouldRefreshToken reports whether the access token is close enough to its
// deadline to refresh proactively. Independent of the reactive 401 path; the
// two are separate safety nets.
func (s *Service) ShouldRefreshToken() bool {
	return s.deps.Store.TimeUntilExpiry() < int(s.refreshThreshold/time.Minute)
}

func (s *Service) persistSession(data *api.AuthData) error {
	if err := s.deps.Store.SetTokens(data.Tokens); err != nil {
		return err
	}
	return s.deps.Store.SetUserData(&data.User)
}
