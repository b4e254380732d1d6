package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.oidclab.dev/implicit/domain"
	"go.oidclab.dev/implicit/issuer"
)

// providerStub serves just enough of the provider surface for the agent:
// the JWKS document plus overridable checksession and endsession handlers.
type providerStub struct {
	server       *httptest.Server
	tokens       *issuer.TokenService
	registry     *domain.Registry
	checkSession http.HandlerFunc
	endSession   http.HandlerFunc
}

func newProviderStub(t *testing.T) *providerStub {
	t.Helper()
	registry, err := domain.SeedRegistry()
	require.NoError(t, err)
	keySet, err := issuer.NewKeySet()
	require.NoError(t, err)

	stub := &providerStub{registry: registry}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keySet.JWKS())
	})
	mux.HandleFunc("/connect/checksession", func(w http.ResponseWriter, r *http.Request) {
		if stub.checkSession != nil {
			stub.checkSession(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active": true}`))
	})
	mux.HandleFunc("/connect/endsession", func(w http.ResponseWriter, r *http.Request) {
		if stub.endSession != nil {
			stub.endSession(w, r)
		}
	})

	stub.server = httptest.NewServer(mux)
	t.Cleanup(stub.server.Close)
	stub.tokens = issuer.NewTokenService(keySet, registry, stub.server.URL)
	return stub
}

// fragmentFor mints a real token set for the given user and packages it the
// way the authorize endpoint would in the redirect fragment.
func (p *providerStub) fragmentFor(t *testing.T, username, nonce, state string) string {
	t.Helper()
	client, _ := p.registry.LookupClient("js")
	user, ok := p.registry.LookupUser(username)
	require.True(t, ok)

	issued, err := p.tokens.Issue(client, user, []string{"openid", "profile", "api1"}, nonce)
	require.NoError(t, err)

	values := url.Values{}
	values.Set("id_token", issued.IDToken)
	values.Set("access_token", issued.AccessToken)
	values.Set("token_type", issued.TokenType)
	values.Set("state", state)
	return values.Encode()
}

func newTestAgent(t *testing.T, stub *providerStub) *Agent {
	t.Helper()
	a, err := New(Config{
		IssuerURL:             stub.server.URL,
		ClientID:              "js",
		RedirectURI:           "http://localhost:5003/callback.html",
		Scope:                 "openid profile api1",
		PostLogoutRedirectURI: "http://localhost:5003/index.html",
	})
	require.NoError(t, err)
	return a
}

// loginParams drives Login and hands back the state and nonce bound to the
// pending request.
func loginParams(t *testing.T, a *Agent) (state, nonce string) {
	t.Helper()
	authorizeURL, err := url.Parse(a.Login())
	require.NoError(t, err)
	query := authorizeURL.Query()
	return query.Get("state"), query.Get("nonce")
}

func TestNewRequiresRegistration(t *testing.T) {
	_, err := New(Config{ClientID: "js"})
	assert.Error(t, err)
}

func TestLoginBuildsAuthorizeURL(t *testing.T) {
	stub := newProviderStub(t)
	a := newTestAgent(t, stub)

	authorizeURL, err := url.Parse(a.Login())
	require.NoError(t, err)

	assert.Equal(t, "/connect/authorize", authorizeURL.Path)
	query := authorizeURL.Query()
	assert.Equal(t, "js", query.Get("client_id"))
	assert.Equal(t, "http://localhost:5003/callback.html", query.Get("redirect_uri"))
	assert.Equal(t, "id_token token", query.Get("response_type"))
	assert.Equal(t, "openid profile api1", query.Get("scope"))
	assert.NotEmpty(t, query.Get("state"))
	assert.NotEmpty(t, query.Get("nonce"))
	assert.Equal(t, StateAwaitingRedirect, a.State())
}

func TestLoginRotatesStateAndNonce(t *testing.T) {
	stub := newProviderStub(t)
	a := newTestAgent(t, stub)

	firstState, firstNonce := loginParams(t, a)
	secondState, secondNonce := loginParams(t, a)

	assert.NotEqual(t, firstState, secondState)
	assert.NotEqual(t, firstNonce, secondNonce)
}

func TestHandleCallback(t *testing.T) {
	stub := newProviderStub(t)
	a := newTestAgent(t, stub)
	state, nonce := loginParams(t, a)

	fragment := stub.fragmentFor(t, "alice", nonce, state)
	require.NoError(t, a.HandleCallback(context.Background(), fragment))

	assert.Equal(t, StateAuthenticated, a.State())
	profile := a.Profile()
	assert.Equal(t, "1", profile["sub"])
	assert.Equal(t, "Alice", profile["name"])
	assert.Equal(t, "https://alice.com", profile["website"])
}

func TestHandleCallbackStateMismatch(t *testing.T) {
	stub := newProviderStub(t)
	a := newTestAgent(t, stub)
	_, nonce := loginParams(t, a)

	fragment := stub.fragmentFor(t, "alice", nonce, "forged-state")
	err := a.HandleCallback(context.Background(), fragment)

	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.NotEqual(t, StateAuthenticated, a.State())
}

func TestHandleCallbackWithoutPendingLogin(t *testing.T) {
	stub := newProviderStub(t)
	a := newTestAgent(t, stub)

	fragment := stub.fragmentFor(t, "alice", "some-nonce", "")
	err := a.HandleCallback(context.Background(), fragment)

	assert.ErrorIs(t, err, ErrStateMismatch)
}

func TestHandleCallbackNonceMismatch(t *testing.T) {
	stub := newProviderStub(t)
	a := newTestAgent(t, stub)
	state, _ := loginParams(t, a)

	fragment := stub.fragmentFor(t, "alice", "replayed-nonce", state)
	err := a.HandleCallback(context.Background(), fragment)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce")
	assert.NotEqual(t, StateAuthenticated, a.State())
}

func TestHandleCallbackRejectsForeignToken(t *testing.T) {
	stub := newProviderStub(t)
	foreign := newProviderStub(t)
	a := newTestAgent(t, stub)
	state, nonce := loginParams(t, a)

	// Signed by a different provider's keys; the signature check must fail.
	fragment := foreign.fragmentFor(t, "alice", nonce, state)
	err := a.HandleCallback(context.Background(), fragment)

	assert.Error(t, err)
	assert.NotEqual(t, StateAuthenticated, a.State())
}

func TestHandleCallbackWithoutIDToken(t *testing.T) {
	stub := newProviderStub(t)
	a := newTestAgent(t, stub)
	state, _ := loginParams(t, a)

	values := url.Values{}
	values.Set("state", state)
	values.Set("access_token", "opaque")
	err := a.HandleCallback(context.Background(), values.Encode())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "id_token")
}

// authenticate runs the full callback path so the agent holds real tokens.
func authenticate(t *testing.T, a *Agent, stub *providerStub, username string) {
	t.Helper()
	state, nonce := loginParams(t, a)
	require.NoError(t, a.HandleCallback(context.Background(), stub.fragmentFor(t, username, nonce, state)))
}

func TestCallAPI(t *testing.T) {
	stub := newProviderStub(t)

	var sawAuthorization string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuthorization = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/identity":
			_, _ = w.Write([]byte(`[{"type":"sub","value":"1"}]`))
		case "/superpowers":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer api.Close()

	t.Run("not authenticated", func(t *testing.T) {
		a := newTestAgent(t, stub)
		_, err := a.CallAPI(context.Background(), api.URL+"/identity")
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})

	t.Run("attaches the bearer token", func(t *testing.T) {
		a := newTestAgent(t, stub)
		authenticate(t, a, stub, "alice")

		body, err := a.CallAPI(context.Background(), api.URL+"/identity")
		require.NoError(t, err)
		assert.JSONEq(t, `[{"type":"sub","value":"1"}]`, string(body))
		assert.Contains(t, sawAuthorization, "Bearer ")
	})

	t.Run("policy denial keeps the session", func(t *testing.T) {
		a := newTestAgent(t, stub)
		authenticate(t, a, stub, "alice")

		_, err := a.CallAPI(context.Background(), api.URL+"/superpowers")
		assert.ErrorIs(t, err, ErrForbidden)
		assert.Equal(t, StateAuthenticated, a.State())
	})

	t.Run("rejected token invalidates the session", func(t *testing.T) {
		a := newTestAgent(t, stub)
		authenticate(t, a, stub, "alice")

		_, err := a.CallAPI(context.Background(), api.URL+"/anything")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, StateUnauthenticated, a.State())

		// Tokens are gone; further calls fail locally without hitting the API.
		_, err = a.CallAPI(context.Background(), api.URL+"/identity")
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})
}

func TestLogout(t *testing.T) {
	stub := newProviderStub(t)

	var endSessionQuery url.Values
	stub.endSession = func(_ http.ResponseWriter, r *http.Request) {
		endSessionQuery = r.URL.Query()
	}

	a := newTestAgent(t, stub)
	authenticate(t, a, stub, "bob")

	require.NoError(t, a.Logout(context.Background()))

	assert.Equal(t, "js", endSessionQuery.Get("client_id"))
	assert.Equal(t, "http://localhost:5003/index.html", endSessionQuery.Get("post_logout_redirect_uri"))
	assert.Equal(t, StateUnauthenticated, a.State())
	assert.Empty(t, a.Profile())

	_, err := a.CallAPI(context.Background(), stub.server.URL+"/identity")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestMonitorSessionExpiry(t *testing.T) {
	stub := newProviderStub(t)
	stub.checkSession = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active": false}`))
	}

	a := newTestAgent(t, stub)
	authenticate(t, a, stub, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.MonitorSession(ctx, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return a.State() == StateSessionExpired
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, a.Profile())
}

func TestMonitorIgnoresTransientFailures(t *testing.T) {
	stub := newProviderStub(t)
	stub.checkSession = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}

	a := newTestAgent(t, stub)
	authenticate(t, a, stub, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.MonitorSession(ctx, 20*time.Millisecond)

	// Enough time for several failed polls; none of them may log us out.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateAuthenticated, a.State())
}

func TestMonitorSkipsWhenNotAuthenticated(t *testing.T) {
	stub := newProviderStub(t)

	var polled bool
	stub.checkSession = func(w http.ResponseWriter, _ *http.Request) {
		polled = true
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active": true}`))
	}

	a := newTestAgent(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.MonitorSession(ctx, 20*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, polled)
}
