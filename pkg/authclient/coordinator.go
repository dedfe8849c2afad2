package authclient

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrLoggedOut means the client holds no usable session: either logout was
// called or a refresh failed. Callers must run a full login.
var ErrLoggedOut = errors.New("authclient: logged out")

// Tokens is the client-held token pair.
type Tokens struct {
	Access  string
	Refresh string
}

// RefreshFunc exchanges a refresh token for a new pair upstream.
type RefreshFunc func(ctx context.Context, refreshToken string) (Tokens, error)

// Coordinator serializes re-authentication for naturally concurrent client
// traffic. When several in-flight requests hit an authentication-expired
// signal for the same access token, exactly one upstream refresh runs (the
// refresh token is single-use server-side); the rest wait on it and are
// released in arrival order. A failed refresh fails every waiter and leaves
// the coordinator logged out.
type Coordinator struct {
	mu      sync.Mutex
	cond    *sync.Cond
	group   singleflight.Group
	refresh RefreshFunc

	tokens    Tokens
	loggedOut bool

	nextTicket uint64
	serving    uint64
}

func NewCoordinator(refresh RefreshFunc) *Coordinator {
	c := &Coordinator{refresh: refresh, loggedOut: true}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SetTokens installs a fresh pair after a successful login.
func (c *Coordinator) SetTokens(tokens Tokens) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = tokens
	c.loggedOut = false
}

// AccessToken returns the current access token.
func (c *Coordinator) AccessToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedOut {
		return "", ErrLoggedOut
	}
	return c.tokens.Access, nil
}

// Logout drops the session locally.
func (c *Coordinator) Logout() Tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.tokens
	c.tokens = Tokens{}
	c.loggedOut = true
	return previous
}

// OnAuthExpired is called by the transport when a request failed with an
// authentication-expired signal while holding staleAccess. It returns the
// replacement access token once the (single) refresh has resolved.
func (c *Coordinator) OnAuthExpired(ctx context.Context, staleAccess string) (string, error) {
	c.mu.Lock()
	if c.loggedOut {
		c.mu.Unlock()
		return "", ErrLoggedOut
	}
	if c.tokens.Access != "" && c.tokens.Access != staleAccess {
		// An earlier waiter already rotated this generation.
		current := c.tokens.Access
		c.mu.Unlock()
		return current, nil
	}
	ticket := c.nextTicket
	c.nextTicket++
	c.mu.Unlock()

	defer c.finishTurn()

	// Keyed by the stale token, so one generation gets one upstream call
	// no matter how many requests expired on it together.
	if _, err, _ := c.group.Do(staleAccess, func() (any, error) {
		return nil, c.doRefresh(ctx)
	}); err != nil {
		return "", err
	}

	c.awaitTurn(ticket)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedOut {
		return "", ErrLoggedOut
	}
	return c.tokens.Access, nil
}

func (c *Coordinator) doRefresh(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.tokens.Refresh
	c.mu.Unlock()

	pair, err := c.refresh(ctx, refreshToken)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.tokens = Tokens{}
		c.loggedOut = true
		return err
	}
	c.tokens = pair
	return nil
}

func (c *Coordinator) awaitTurn(ticket uint64) {
	c.mu.Lock()
	for c.serving != ticket {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

func (c *Coordinator) finishTurn() {
	c.mu.Lock()
	c.serving++
	c.cond.Broadcast()
	c.mu.Unlock()
}
