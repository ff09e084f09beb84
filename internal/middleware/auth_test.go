package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidc-gateway/internal/auth"
	"oidc-gateway/internal/auth/provider/providertest"
	"oidc-gateway/internal/session"
)

const (
	testAuthURL     = "http://idp:8080/realms/demo/protocol/openid-connect/auth"
	testRedirectURL = "http://localhost:3000/oauth2/callback"
)

type testEnv struct {
	store   *session.MemoryStore
	fake    *providertest.Fake
	cookies *session.CookieCodec
	mw      *AuthMiddleware
	handler http.Handler
	hits    atomic.Int32

	mu     sync.Mutex
	cookie *http.Cookie
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cookies, err := session.NewCookieCodec([]byte("test-secret"), time.Hour, session.CookieOptions{})
	require.NoError(t, err)

	e := &testEnv{
		store:   session.NewMemoryStore(time.Hour),
		fake:    providertest.New(testAuthURL, "app1", testRedirectURL),
		cookies: cookies,
	}
	e.mw = NewAuthMiddleware(e.store, e.fake, e.cookies)

	protected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.hits.Add(1)
		fmt.Fprint(w, GrantFromContext(r.Context()).Claims.Username())
	})
	e.handler = e.mw.Preprocess(e.mw.RequireAuth(protected))
	return e
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	e.mu.Lock()
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	e.mu.Unlock()

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			e.mu.Lock()
			e.cookie = c
			e.mu.Unlock()
		}
	}
	return rec
}

func (e *testEnv) sessionID(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(e.cookie)
	id, ok := e.cookies.Read(req)
	require.True(t, ok)
	return id
}

func redirectState(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code)
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestGuardRedirectsWithoutGrant(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/protected")

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, testAuthURL, loc.Scheme+"://"+loc.Host+loc.Path)
	assert.Equal(t, testRedirectURL, loc.Query().Get("redirect_uri"))
	assert.Zero(t, e.hits.Load())

	require.NotNil(t, e.cookie, "preprocess starts a session")
	sess, err := e.store.Get(context.Background(), e.sessionID(t))
	require.NoError(t, err)
	require.NotNil(t, sess.Pending)
	assert.Equal(t, loc.Query().Get("state"), sess.Pending.State)
}

func TestLoginFlow(t *testing.T) {
	e := newTestEnv(t)

	state := redirectState(t, e.get(t, "/login"))
	e.fake.IssueCode("code-1", providertest.Grant("alice", time.Hour))

	rec := e.get(t, "/oauth2/callback?state="+state+"&code=code-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	exchanges := e.fake.Exchanges()
	require.Len(t, exchanges, 1)
	assert.Equal(t, state, exchanges[0].State)

	rec = e.get(t, "/protected")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
	assert.Equal(t, int32(2), e.hits.Load())

	sess, err := e.store.Get(context.Background(), e.sessionID(t))
	require.NoError(t, err)
	assert.Nil(t, sess.Pending)
	assert.NotNil(t, sess.Grant)
}

func TestCallbackStateMismatchRestartsFlow(t *testing.T) {
	e := newTestEnv(t)

	state := redirectState(t, e.get(t, "/login"))
	e.fake.IssueCode("code-1", providertest.Grant("alice", time.Hour))

	rec := e.get(t, "/oauth2/callback?state=forged&code=code-1")
	next := redirectState(t, rec)

	assert.NotEqual(t, state, next)
	assert.Empty(t, e.fake.Exchanges())
	assert.Zero(t, e.hits.Load())
}

func TestCallbackProviderError(t *testing.T) {
	e := newTestEnv(t)

	state := redirectState(t, e.get(t, "/login"))

	rec := e.get(t, "/oauth2/callback?state="+state+"&error=access_denied&error_description=nope")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, e.fake.Exchanges())
	assert.Zero(t, e.hits.Load())
}

func TestCallbackExchangeFailure(t *testing.T) {
	e := newTestEnv(t)

	state := redirectState(t, e.get(t, "/login"))

	rec := e.get(t, "/oauth2/callback?state="+state+"&code=unknown")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, GenericErrorMessage+"\n", rec.Body.String())
	assert.Zero(t, e.hits.Load())
}

func TestCallbackMissingCodeRestartsFlow(t *testing.T) {
	e := newTestEnv(t)

	state := redirectState(t, e.get(t, "/login"))

	redirectState(t, e.get(t, "/oauth2/callback?state="+state))
	assert.Empty(t, e.fake.Exchanges())
}

func TestConcurrentCallbacksExchangeOnce(t *testing.T) {
	e := newTestEnv(t)

	state := redirectState(t, e.get(t, "/login"))
	e.fake.IssueCode("code-1", providertest.Grant("alice", time.Hour))

	var wg sync.WaitGroup
	codes := make([]int, 4)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = e.get(t, "/oauth2/callback?state="+state+"&code=code-1").Code
		}(i)
	}
	wg.Wait()

	assert.Len(t, e.fake.Exchanges(), 1)
	assert.Contains(t, codes, http.StatusOK)
	for _, c := range codes {
		assert.NotEqual(t, http.StatusInternalServerError, c)
	}
}

func TestCompleteCallbackReturnsWinnersGrant(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	sess, err := e.store.Create(ctx)
	require.NoError(t, err)
	g := providertest.Grant("alice", time.Hour)
	require.NoError(t, e.store.AttachGrant(ctx, sess.ID, g))

	got, err := e.mw.CompleteCallback(ctx, sess.ID, url.Values{"state": {"late"}, "code": {"c"}})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Claims.Username())

	_, err = e.mw.CompleteCallback(ctx, "gone", url.Values{"state": {"s"}})
	assert.ErrorIs(t, err, ErrInvalidCallback)
}

func TestExpiredGrantIsRefreshed(t *testing.T) {
	e := newTestEnv(t)
	e.get(t, "/")
	ctx := context.Background()
	sid := e.sessionID(t)

	require.NoError(t, e.store.AttachGrant(ctx, sid, providertest.Grant("alice", -time.Minute)))
	e.fake.SetRefresh(providertest.Grant("alice", time.Hour), nil)

	rec := e.get(t, "/protected")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, e.fake.Refreshes())

	sess, err := e.store.Get(ctx, sid)
	require.NoError(t, err)
	assert.True(t, sess.Grant.Valid(time.Now()))
}

func TestExpiredGrantRefreshFailureRedirects(t *testing.T) {
	e := newTestEnv(t)
	e.get(t, "/")
	sid := e.sessionID(t)

	require.NoError(t, e.store.AttachGrant(context.Background(), sid, providertest.Grant("alice", -time.Minute)))
	e.fake.SetRefresh(nil, errors.New("refresh token expired"))

	redirectState(t, e.get(t, "/protected"))
	assert.Equal(t, 1, e.fake.Refreshes())
	assert.Zero(t, e.hits.Load())
}

func TestPreprocessReplacesUnknownSession(t *testing.T) {
	e := newTestEnv(t)

	e.get(t, "/")
	first := e.sessionID(t)

	_, err := e.store.Destroy(context.Background(), first)
	require.NoError(t, err)

	e.get(t, "/")
	assert.NotEqual(t, first, e.sessionID(t))
}

func TestPreprocessAttachesContext(t *testing.T) {
	e := newTestEnv(t)

	var gotID string
	var gotGrant *auth.Grant
	h := e.mw.Preprocess(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = SessionIDFromContext(r.Context())
		gotGrant = GrantFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, gotID)
	assert.Nil(t, gotGrant)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGinAdapters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newTestEnv(t)

	var reached bool
	r := gin.New()
	r.Use(GinPreprocess(e.mw))
	r.GET("/protected", GinRequireAuth(e.mw), func(c *gin.Context) {
		reached = true
		c.String(http.StatusOK, GrantFromContext(c.Request.Context()).Claims.Username())
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.False(t, reached)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sid, ok := e.cookies.Read(req)
	require.True(t, ok)
	require.NoError(t, e.store.AttachGrant(context.Background(), sid, providertest.Grant("bob", time.Hour)))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(cookie)
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", rec.Body.String())
	assert.True(t, reached)
}
