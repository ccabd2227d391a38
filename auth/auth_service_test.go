package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/civickit/go-civic-client/api"
	"github.com/civickit/go-civic-client/auth"
	"github.com/civickit/go-civic-client/internal/config"
	apperrors "github.com/civickit/go-civic-client/internal/errors"
	"github.com/civickit/go-civic-client/token"
	"github.com/civickit/go-civic-client/token/storefake"
	"github.com/civickit/go-civic-client/transport"
)

const (
	testEmail    = "felipe@gmail.com"
	testPassword = "123456789"
)

type testFixture struct {
	keyring *storefake.FakeKeyring
	store   *token.Store
	service *auth.Service

	meCalls      atomic.Int32
	refreshCalls atomic.Int32
}

func setupTestFixture(t *testing.T, mux *http.ServeMux) *testFixture {
	t.Helper()

	f := &testFixture{}
	if mux == nil {
		mux = http.NewServeMux()
	}

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	f.keyring = storefake.NewFakeKeyring()
	f.store = token.NewStore(f.keyring, zerolog.Nop())
	client := transport.New(config.New(), f.store, zerolog.Nop(), transport.WithBaseURL(server.URL))

	service, err := auth.NewService(auth.Deps{Client: client, Store: f.store}, config.New(), zerolog.Nop())
	require.NoError(t, err)
	f.service = service
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func authEnvelope(email string) api.Envelope[api.AuthData] {
	return api.Envelope[api.AuthData]{
		Success: true,
		Message: "ok",
		Data: &api.AuthData{
			User: api.User{ID: "user-1", Name: "Felipe", Email: email, Role: "citizen"},
			Tokens: api.TokenPair{
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
				ExpiresIn:    "15m",
			},
		},
	}
}

func (f *testFixture) handleMe(mux *http.ServeMux, wantBearer string) {
	mux.HandleFunc(api.PathCurrentUser, func(w http.ResponseWriter, r *http.Request) {
		f.meCalls.Add(1)
		if wantBearer != "" && r.Header.Get("Authorization") != "Bearer "+wantBearer {
			writeJSON(w, http.StatusUnauthorized, api.Envelope[api.UserData]{Success: false, Message: "unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, api.Envelope[api.UserData]{
			Success: true,
			Data:    &api.UserData{User: api.User{ID: "user-1", Email: testEmail}},
		})
	})
}

func TestLoginPersistsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathLogin, func(w http.ResponseWriter, r *http.Request) {
		var req api.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, testEmail, req.Email)
		require.Equal(t, testPassword, req.Password)
		writeJSON(w, http.StatusOK, authEnvelope(req.Email))
	})
	f := setupTestFixture(t, mux)

	result, err := f.service.Login(context.Background(), api.LoginRequest{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	require.Equal(t, testEmail, result.User.Email)

	// All four entries populated: access, refresh, expiry, profile.
	require.Equal(t, 4, f.keyring.Len())
	require.Equal(t, "access-1", f.store.AccessToken())
	require.Equal(t, "refresh-1", f.store.RefreshToken())
	require.False(t, f.store.IsTokenExpired())
	require.Equal(t, testEmail, f.store.UserData().Email)
}

func TestLoginRejectionPropagatesAndPersistsNothing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathLogin, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, api.Envelope[api.AuthData]{
			Success: false,
			Message: "invalid credentials",
			Field:   "password",
		})
	})
	f := setupTestFixture(t, mux)

	_, err := f.service.Login(context.Background(), api.LoginRequest{Email: testEmail, Password: "wrong"})
	require.Error(t, err)

	var appErr *apperrors.Error
	require.True(t, apperrors.As(err, &appErr))
	require.Equal(t, apperrors.KindServer, appErr.Kind)
	require.Equal(t, "invalid credentials", appErr.Message)
	require.Equal(t, "password", appErr.Field)
	require.Equal(t, 0, f.keyring.Len())
}

func TestLoginStorageWriteFailureIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathLogin, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, authEnvelope(testEmail))
	})
	f := setupTestFixture(t, mux)
	f.keyring.SetErrs["civic.access_token"] = errors.New("keychain unavailable")

	_, err := f.service.Login(context.Background(), api.LoginRequest{Email: testEmail, Password: testPassword})
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.ErrStorage))
}

func TestRegisterPersistsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathRegister, func(w http.ResponseWriter, r *http.Request) {
		var req api.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "Felipe", req.Name)
		writeJSON(w, http.StatusCreated, authEnvelope(req.Email))
	})
	f := setupTestFixture(t, mux)

	result, err := f.service.Register(context.Background(), api.RegisterRequest{Name: "Felipe", Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	require.Equal(t, testEmail, result.User.Email)
	require.Equal(t, 4, f.keyring.Len())
}

func TestLogoutClearsStorageEvenWhenServerFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathLogout, func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close() // simulate total connectivity loss
	})
	f := setupTestFixture(t, mux)

	require.NoError(t, f.store.SetTokens(api.TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresIn: "15m"}))
	require.NoError(t, f.store.SetUserData(&api.User{ID: "user-1"}))

	f.service.Logout(context.Background())
	require.Equal(t, 0, f.keyring.Len())
}

func TestLogoutClearsStorageOnSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathLogout, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.Envelope[json.RawMessage]{Success: true, Message: "logged out"})
	})
	f := setupTestFixture(t, mux)
	require.NoError(t, f.store.SetTokens(api.TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresIn: "15m"}))

	f.service.Logout(context.Background())
	require.Equal(t, 0, f.keyring.Len())
}

func TestVerifySessionWithoutTokensMakesNoNetworkCalls(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	f := setupTestFixture(t, mux)

	require.False(t, f.service.VerifySession(context.Background()))
	require.Equal(t, int32(0), calls.Load())
}

func TestVerifySessionRefreshesExpiredToken(t *testing.T) {
	mux := http.NewServeMux()
	f := setupTestFixture(t, mux)
	f.handleMe(mux, "")
	mux.HandleFunc(api.PathRefresh, func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		var req api.RefreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "refresh-1", req.RefreshToken)
		writeJSON(w, http.StatusOK, api.Envelope[api.TokensData]{
			Success: true,
			Data:    &api.TokensData{Tokens: api.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: "15m"}},
		})
	})

	// Stored token already expired: a 30s lifetime is inside the 60s buffer.
	require.NoError(t, f.store.SetTokens(api.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: "30s"}))

	require.True(t, f.service.VerifySession(context.Background()))
	require.Equal(t, int32(1), f.refreshCalls.Load())
	require.Equal(t, int32(0), f.meCalls.Load())
	require.Equal(t, "access-2", f.store.AccessToken())
}

func TestVerifySessionUsesProfileFetchAsLivenessCheck(t *testing.T) {
	mux := http.NewServeMux()
	f := setupTestFixture(t, mux)
	f.handleMe(mux, "access-1")

	require.NoError(t, f.store.SetTokens(api.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: "15m"}))

	require.True(t, f.service.VerifySession(context.Background()))
	require.Equal(t, int32(1), f.meCalls.Load())
	// The liveness fetch re-persists the profile.
	require.Equal(t, testEmail, f.store.UserData().Email)
}

func TestVerifySessionFalseWhenRefreshRejected(t *testing.T) {
	mux := http.NewServeMux()
	f := setupTestFixture(t, mux)
	mux.HandleFunc(api.PathRefresh, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, api.Envelope[api.TokensData]{Success: false, Message: "invalid refresh token"})
	})

	require.NoError(t, f.store.SetTokens(api.TokenPair{AccessToken: "access-1", RefreshToken: "dead", ExpiresIn: "30s"}))

	require.False(t, f.service.VerifySession(context.Background()))
	// Rejected refresh wipes the stored session.
	require.Equal(t, 0, f.keyring.Len())
}

func TestRefreshWithoutStoredTokenFails(t *testing.T) {
	f := setupTestFixture(t, nil)
	err := f.service.Refresh(context.Background())
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.ErrNoRefreshToken))
}

func TestShouldRefreshToken(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn string
		want      bool
	}{
		{"plenty of time left", "90m", false},
		{"at threshold", "5m", true}, // flooring puts a just-issued 5m token below 5 whole minutes
		{"inside threshold", "4m", true},
		{"just above threshold", "6m", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := setupTestFixture(t, nil)
			require.NoError(t, f.store.SetTokens(api.TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresIn: tc.expiresIn}))
			require.Equal(t, tc.want, f.service.ShouldRefreshToken())
		})
	}
}

func TestShouldRefreshTokenWithNothingStored(t *testing.T) {
	f := setupTestFixture(t, nil)
	require.True(t, f.service.ShouldRefreshToken())
}

func TestNewServiceValidatesDeps(t *testing.T) {
	_, err := auth.NewService(auth.Deps{}, config.New(), zerolog.Nop())
	require.Error(t, err)
}
