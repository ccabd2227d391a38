// Package token persists the client's credentials and cached profile in the
// platform's secure storage and owns the token-expiry arithmetic.
package token

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/civickit/go-civic-client/api"
	apperrors "github.com/civickit/go-civic-client/internal/errors"
)

// Storage keys. Four independent entries, no single blob, so a corrupt
// profile cannot take the tokens down with it.
const (
	accessTokenKey  = "civic.access_token"
	refreshTokenKey = "civic.refresh_token"
	tokenExpiryKey  = "civic.token_expiry"
	userProfileKey  = "civic.user_profile"
)

// ExpiryBuffer keeps a near-expiry token from racing into a request: the
// token is treated as expired this long before its real deadline.
const ExpiryBuffer = 60 * time.Second

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Store reads and writes the persisted session record. Read failures degrade
// to "absent", since they are indistinguishable from never having logged in.
// Write failures surface as storage errors and are fatal to the triggering
// operation.
type Store struct {
	keyring Keyring
	log     zerolog.Logger
	nowTime func() time.Time
}

// StoreOption modifies a Store instance.
type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// NewStore creates a Store over the given secure-storage backend.
func NewStore(keyring Keyring, logger zerolog.Logger, options ...StoreOption) *Store {
	store := &Store{
		keyring: keyring,
		log:     logger,
		nowTime: func() time.Time { return NowTimeFunc() },
	}
	for _, opt := range options {
		opt(store)
	}
	return store
}

// SetTokens persists a freshly minted token pair. The expiry deadline is
// resolved at receipt time: wire expiresIn first, the access token's exp
// claim second, DefaultExpiresIn last. The expiry is written before the
// tokens, so no failure ordering can leave tokens behind without a deadline.
func (s *Store) SetTokens(tokens api.TokenPair) error {
	expiresAt := CalculateExpiry(s.nowTime(), tokens.ExpiresIn)
	if tokens.ExpiresIn == "" {
		if claimed := expiryFromAccessToken(tokens.AccessToken); !claimed.IsZero() {
			expiresAt = claimed
		}
	}

	if err := s.keyring.Set(tokenExpiryKey, strconv.FormatInt(expiresAt.UnixMilli(), 10)); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, err, "failed to store token expiry")
	}
	if err := s.keyring.Set(accessTokenKey, tokens.AccessToken); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, err, "failed to store access token")
	}
	if err := s.keyring.Set(refreshTokenKey, tokens.RefreshToken); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, err, "failed to store refresh token")
	}
	return nil
}

// AccessToken returns the stored access token, or "" when absent or
// unreadable.
func (s *Store) AccessToken() string {
	return s.read(accessTokenKey)
}

// RefreshToken returns the stored refresh token, or "" when absent or
// unreadable.
func (s *Store) RefreshToken() string {
	return s.read(refreshTokenKey)
}

// HasStoredTokens reports whether both the access and refresh tokens are
// present.
func (s *Store) HasStoredTokens() bool {
	return s.AccessToken() != "" && s.RefreshToken() != ""
}

// IsTokenExpired reports whether the stored access token is within
// ExpiryBuffer of its deadline. A missing or unreadable expiry counts as
// expired: a token without a deadline is untrusted.
func (s *Store) IsTokenExpired() bool {
	expiresAt, ok := s.expiresAt()
	if !ok {
		return true
	}
	return !s.nowTime().Add(ExpiryBuffer).Before(expiresAt)
}

// TimeUntilExpiry returns the whole minutes remaining before the stored
// deadline, never negative. Zero when nothing is stored.
func (s *Store) TimeUntilExpiry() int {
	expiresAt, ok := s.expiresAt()
	if !ok {
		return 0
	}
	remaining := expiresAt.Sub(s.nowTime())
	if remaining < 0 {
		return 0
	}
	return int(remaining / time.Minute)
}

// SetUserData caches the profile alongside the tokens.
func (s *Store) SetUserData(user *api.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorage, err, "failed to serialize user profile")
	}
	if err := s.keyring.Set(userProfileKey, string(data)); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, err, "failed to store user profile")
	}
	return nil
}

// UserData returns the cached profile, or nil when absent or unreadable.
func (s *Store) UserData() *api.User {
	raw := s.read(userProfileKey)
	if raw == "" {
		return nil
	}
	var user api.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.log.Warn().Err(err).Msg("stored user profile is corrupt, treating as absent")
		return nil
	}
	return &user
}

// ClearAll best-effort deletes all four entries. Individual failures are
// logged and swallowed so that logout always completes locally.
func (s *Store) ClearAll() {
	for _, key := range []string{accessTokenKey, refreshTokenKey, tokenExpiryKey, userProfileKey} {
		if err := s.keyring.Delete(key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to clear secure storage entry")
		}
	}
}

func (s *Store) expiresAt() (time.Time, bool) {
	raw := s.read(tokenExpiryKey)
	if raw == "" {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.log.Warn().Err(err).Msg("stored token expiry is corrupt, treating token as expired")
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}

func (s *Store) read(key string) string {
	value, err := s.keyring.Get(key)
	if err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("secure storage read failed, treating as absent")
		return ""
	}
	return value
}
