package session

import (
	"context"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/rs/zerolog"

	"github.com/civickit/go-civic-client/api"
	"github.com/civickit/go-civic-client/auth"
	"github.com/civickit/go-civic-client/internal/config"
	apperrors "github.com/civickit/go-civic-client/internal/errors"
	"github.com/civickit/go-civic-client/mutation"
)

// TopicSessionChanged carries every State transition on the controller's bus.
const TopicSessionChanged = "session:changed"

// Controller owns the in-memory session state and the two background timers:
// the proactive refresh check and the inactivity logout. Lifecycle is
// explicit: Start arms everything, Stop tears it down on every exit path.
type Controller struct {
	svc *auth.Service
	bus EventBus.Bus
	log zerolog.Logger

	refreshCheckInterval time.Duration
	idleTimeout          time.Duration

	// Auth actions go through executors so a double-tap cannot produce a
	// duplicate submission, and the refresh gets bounded retries with
	// backoff.
	loginExec    *mutation.Executor[api.LoginRequest, *auth.Result]
	registerExec *mutation.Executor[api.RegisterRequest, *auth.Result]
	refreshExec  *mutation.Executor[struct{}, struct{}]

	mu        sync.Mutex
	state     State
	idleTimer *time.Timer
	cancel    context.CancelFunc
	started   bool
}

// ControllerOption defines a function type to modify the Controller instance.
type ControllerOption func(*Controller)

// WithRefreshCheckInterval overrides how often the proactive refresh check
// runs (primarily for testing).
func WithRefreshCheckInterval(interval time.Duration) ControllerOption {
	return func(c *Controller) {
		c.refreshCheckInterval = interval
	}
}

// WithIdleTimeout overrides the inactivity logout deadline. Zero disables it.
func WithIdleTimeout(timeout time.Duration) ControllerOption {
	return func(c *Controller) {
		c.idleTimeout = timeout
	}
}

// NewController creates a Controller in the pre-bootstrap state: loading, not
// initialized.
func NewController(svc *auth.Service, cfg config.Config, logger zerolog.Logger, options ...ControllerOption) *Controller {
	controller := &Controller{
		svc:                  svc,
		bus:                  EventBus.New(),
		log:                  logger,
		refreshCheckInterval: cfg.GetRefreshCheckInterval(),
		idleTimeout:          cfg.GetIdleTimeout(),
		state:                State{Status: StatusLoading},
	}
	for _, opt := range options {
		opt(controller)
	}

	controller.loginExec = mutation.NewExecutor(func(ctx context.Context, req api.LoginRequest) (*auth.Result, error) {
		controller.dispatch(Event{Type: EventLoadStarted})
		return svc.Login(ctx, req)
	}, logger)
	controller.registerExec = mutation.NewExecutor(func(ctx context.Context, req api.RegisterRequest) (*auth.Result, error) {
		controller.dispatch(Event{Type: EventLoadStarted})
		return svc.Register(ctx, req)
	}, logger)
	controller.refreshExec = mutation.NewExecutor(func(ctx context.Context, _ struct{}) (struct{}, error) {
		controller.dispatch(Event{Type: EventLoadStarted})
		return struct{}{}, svc.Refresh(ctx)
	}, logger,
		mutation.WithRetries[struct{}](2),
		mutation.WithRetryDelayFunc[struct{}](mutation.AuthBackoff),
	)

	return controller
}

// State returns the current session snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for every state transition.
func (c *Controller) Subscribe(fn func(State)) error {
	return c.bus.Subscribe(TopicSessionChanged, fn)
}

// Unsubscribe removes a previously registered handler.
func (c *Controller) Unsubscribe(fn func(State)) error {
	return c.bus.Unsubscribe(TopicSessionChanged, fn)
}

// Start runs bootstrap synchronously, then arms the background refresh loop.
// Calling Start twice is a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.bootstrap(runCtx)
	go c.refreshLoop(runCtx)
}

// Stop tears down the timers. The session state itself is left as-is; a
// stopped controller can be started again.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	c.cancel = nil
	c.stopIdleTimerLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Login authenticates and reports failures twice: into the global state for
// banners and route guards, and to the caller so the form can react locally.
func (c *Controller) Login(ctx context.Context, credentials api.LoginRequest) error {
	result, err := c.loginExec.Mutate(ctx, credentials)
	if err != nil {
		if apperrors.Is(err, mutation.ErrBusy) {
			// Duplicate submission; the first one is still running and will
			// land the state.
			return err
		}
		c.dispatch(Event{Type: EventFailed, Message: failureMessage(err)})
		return err
	}
	c.dispatch(Event{Type: EventAuthenticated, User: &result.User})
	return nil
}

// Register creates an account; on success the minted session is live
// immediately.
func (c *Controller) Register(ctx context.Context, req api.RegisterRequest) error {
	result, err := c.registerExec.Mutate(ctx, req)
	if err != nil {
		if apperrors.Is(err, mutation.ErrBusy) {
			return err
		}
		c.dispatch(Event{Type: EventFailed, Message: failureMessage(err)})
		return err
	}
	c.dispatch(Event{Type: EventAuthenticated, User: &result.User})
	return nil
}

// Logout always lands unauthenticated, server reachable or not. The route
// guard reacts to the transition by returning to the login entry point.
func (c *Controller) Logout(ctx context.Context) {
	c.dispatch(Event{Type: EventLoadStarted})
	c.svc.Logout(ctx)
	c.dispatch(Event{Type: EventUnauthenticated})
}

// RefreshSession renews the tokens and re-fetches the profile. Any failure
// drops to unauthenticated; session expiry is a silent re-auth prompt, never
// an error banner.
func (c *Controller) RefreshSession(ctx context.Context) {
	if _, err := c.refreshExec.Mutate(ctx, struct{}{}); err != nil {
		if apperrors.Is(err, mutation.ErrBusy) {
			return
		}
		c.log.Warn().Err(err).Msg("session refresh failed")
		c.dispatch(Event{Type: EventUnauthenticated})
		return
	}
	user, err := c.svc.CurrentUser(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("profile fetch after refresh failed")
		c.dispatch(Event{Type: EventUnauthenticated})
		return
	}
	c.dispatch(Event{Type: EventAuthenticated, User: user})
}

// ClearError drops the failure message without re-running any network call.
func (c *Controller) ClearError() {
	c.dispatch(Event{Type: EventErrorCleared})
}

// Touch re-arms the inactivity timer. Call it on user activity.
func (c *Controller) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status == StatusAuthenticated {
		c.armIdleTimerLocked()
	}
}

// bootstrap resolves the initial auth state from persisted data. Nothing
// escapes this path; any failure, including a panic, degrades to
// unauthenticated.
func (c *Controller) bootstrap(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("bootstrap panicked, degrading to unauthenticated")
			c.dispatch(Event{Type: EventUnauthenticated})
		}
	}()

	c.dispatch(Event{Type: EventLoadStarted})
	if !c.svc.VerifySession(ctx) {
		c.dispatch(Event{Type: EventUnauthenticated})
		return
	}

	// VerifySession's liveness check re-persisted the profile when it went
	// over the network; the refresh path leaves the login-time cache behind.
	user := c.svc.CachedUser()
	if user == nil {
		fetched, err := c.svc.CurrentUser(ctx)
		if err != nil {
			c.dispatch(Event{Type: EventUnauthenticated})
			return
		}
		user = fetched
	}
	c.dispatch(Event{Type: EventAuthenticated, User: user})
}

// refreshLoop is the proactive safety net: while the session is
// authenticated, ask every interval whether the token is near its deadline
// and renew it before a request ever sees a 401. The gate on the current
// status means an unauthenticated session never triggers network activity.
func (c *Controller) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(c.refreshCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State().Status != StatusAuthenticated {
				continue
			}
			if !c.svc.ShouldRefreshToken() {
				continue
			}
			c.log.Debug().Msg("access token near expiry, refreshing proactively")
			c.RefreshSession(ctx)
		}
	}
}

// dispatch applies one event and publishes the new state. Idle-timer
// lifecycle hangs off the authenticated edge: armed on entry, stopped on
// exit.
func (c *Controller) dispatch(event Event) {
	c.mu.Lock()
	wasAuthenticated := c.state.Status == StatusAuthenticated
	c.state = Reduce(c.state, event)
	next := c.state
	isAuthenticated := next.Status == StatusAuthenticated

	if isAuthenticated && !wasAuthenticated {
		c.armIdleTimerLocked()
	}
	if wasAuthenticated && !isAuthenticated {
		c.stopIdleTimerLocked()
	}
	c.mu.Unlock()

	c.bus.Publish(TopicSessionChanged, next)
}

func (c *Controller) armIdleTimerLocked() {
	c.stopIdleTimerLocked()
	if c.idleTimeout <= 0 {
		return
	}
	c.idleTimer = time.AfterFunc(c.idleTimeout, func() {
		c.log.Info().Msg("session idle timeout reached, logging out")
		c.Logout(context.Background())
	})
}

func (c *Controller) stopIdleTimerLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

func failureMessage(err error) string {
	var appErr *apperrors.Error
	if apperrors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
