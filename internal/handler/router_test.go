package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/pasarmalam/internal/middleware"
	"github.com/hitoshi/pasarmalam/internal/model"
)

const testFrontendOrigin = "http://localhost:3000"

// mockSessionResolverForRouter はトークンとユーザーの対応表でセッションを解決する。
type mockSessionResolverForRouter struct {
	users map[string]*model.User
}

func (m *mockSessionResolverForRouter) ResolveSession(ctx context.Context, token string) (*model.User, error) {
	if u, ok := m.users[token]; ok {
		return u, nil
	}
	return nil, model.NewUnauthorizedError()
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

type mockStatusRecorderForRouter struct {
	codes []int
}

func (m *mockStatusRecorderForRouter) RecordHTTPStatus(code int) { m.codes = append(m.codes, code) }

// createTestRouter はテスト用の完全なルーターを構築する。
// トークン"valid-token"はuser-1として解決される。
func createTestRouter(t *testing.T, modify func(*RouterDeps)) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	deps := &RouterDeps{
		SessionResolver: &mockSessionResolverForRouter{users: map[string]*model.User{
			"valid-token": {ID: "user-1", DisplayName: "Alice"},
		}},
		CORSAllowedOrigins: []string{testFrontendOrigin},
		RateLimiter:        rl,
		HealthChecker:      &mockHealthChecker{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics\n"))
		}),
		AuthService: &mockAuthService{
			legacyLoginFn: func(ctx context.Context, displayName string) (*model.User, *model.Session, error) {
				return &model.User{ID: "user-legacy", DisplayName: displayName}, &model.Session{Token: "legacy-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
			},
		},
		AuthConfig: AuthHandlerConfig{BaseURL: testFrontendOrigin, SessionMaxAge: 604800},
		ListingService: &mockListingService{
			listFn: func(context.Context, model.ListingFilter) ([]*model.Listing, error) {
				return []*model.Listing{sampleListing("l-1", "user-1")}, nil
			},
			getFn: func(ctx context.Context, id string) (*model.Listing, error) {
				return sampleListing(id, "user-1"), nil
			},
		},
		BidPlacer:        &mockBidPlacer{},
		CommentService:   &mockCommentService{},
		GameSearcher:     &mockGameSearcher{},
		ListingExtractor: &mockExtractor{},
	}
	if modify != nil {
		modify(deps)
	}
	return NewRouter(deps)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router := createTestRouter(t, nil)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/api/", "", http.StatusOK},
		{http.MethodPost, "/api/seed", "", http.StatusOK},
		{http.MethodGet, "/api/listings", "", http.StatusOK},
		{http.MethodGet, "/api/listings/l-1", "", http.StatusOK},
		{http.MethodGet, "/api/bgg/search?q=catan", "", http.StatusOK},
		{http.MethodPost, "/api/auth/login", `{"displayName":"Bob"}`, http.StatusOK},
		{http.MethodPost, "/api/auth/login-legacy", `{"displayName":"Bob"}`, http.StatusOK},
		{http.MethodPost, "/api/auth/logout", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(router, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body=%s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRouter_ProtectedEndpoints_RequireSession(t *testing.T) {
	router := createTestRouter(t, nil)

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodPut, "/api/auth/profile"},
		{http.MethodPost, "/api/listings"},
		{http.MethodPut, "/api/listings/l-1"},
		{http.MethodDelete, "/api/listings/l-1"},
		{http.MethodPost, "/api/listings/l-1/bid"},
		{http.MethodPost, "/api/listings/l-1/comments"},
		{http.MethodDelete, "/api/listings/l-1/comments/c-1"},
	}
	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			w := serve(router, httptest.NewRequest(ep.method, ep.path, strings.NewReader(`{}`)))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			body := parseAPIErrorResponse(t, w)
			if body["code"] != model.ErrCodeUnauthorized {
				t.Errorf("code = %q", body["code"])
			}
		})
	}
}

func TestRouter_BearerTokenAuthenticates(t *testing.T) {
	router := createTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := serve(router, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp userResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.ID != "user-1" {
		t.Errorf("id = %q", resp.ID)
	}
}

func TestRouter_CookieMutationsRequireAllowedOrigin(t *testing.T) {
	router := createTestRouter(t, nil)

	bid := func(origin string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/listings/l-1/bid", strings.NewReader(`{"bidAmount":10}`))
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-token"})
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return serve(router, req).Code
	}

	if got := bid(testFrontendOrigin); got != http.StatusOK {
		t.Errorf("allowed origin = %d, want 200", got)
	}
	if got := bid("https://evil.example"); got != http.StatusForbidden {
		t.Errorf("foreign origin = %d, want 403", got)
	}
	if got := bid(""); got != http.StatusForbidden {
		t.Errorf("missing origin = %d, want 403", got)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := createTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/listings", nil)
	req.Header.Set("Origin", testFrontendOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := serve(router, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != testFrontendOrigin {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q", got)
	}
}

func TestRouter_GoogleRoutesOnlyWhenConfigured(t *testing.T) {
	disabled := createTestRouter(t, nil)
	if w := serve(disabled, httptest.NewRequest(http.MethodGet, "/api/auth/google/login", nil)); w.Code != http.StatusNotFound {
		t.Errorf("disabled: status = %d, want 404", w.Code)
	}

	enabled := createTestRouter(t, func(d *RouterDeps) {
		d.AuthService = &mockAuthService{
			oauthEnabled:  true,
			getLoginURLFn: func(state string) string { return "https://accounts.google.com/?state=" + state },
		}
	})
	if w := serve(enabled, httptest.NewRequest(http.MethodGet, "/api/auth/google/login", nil)); w.Code != http.StatusTemporaryRedirect {
		t.Errorf("enabled: status = %d, want 307", w.Code)
	}
}

func TestRouter_HealthReportsStoreFailure(t *testing.T) {
	router := createTestRouter(t, func(d *RouterDeps) {
		d.HealthChecker = &mockHealthChecker{err: errors.New("connection refused")}
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestRouter_ExpensiveRoutesHaveOwnLimit(t *testing.T) {
	router := createTestRouter(t, func(d *RouterDeps) {
		rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(100, 2))
		t.Cleanup(rl.Stop)
		d.RateLimiter = rl
	})

	for i := 0; i < 2; i++ {
		if w := serve(router, httptest.NewRequest(http.MethodGet, "/api/bgg/search?q=catan", nil)); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	if w := serve(router, httptest.NewRequest(http.MethodPost, "/api/ai/parse-text", strings.NewReader(`{"text":"x"}`))); w.Code != http.StatusTooManyRequests {
		t.Errorf("third expensive call = %d, want 429", w.Code)
	}
	if w := serve(router, httptest.NewRequest(http.MethodGet, "/api/listings", nil)); w.Code != http.StatusOK {
		t.Errorf("general route = %d, want 200", w.Code)
	}
}

func TestRouter_RecordsStatusMetrics(t *testing.T) {
	rec := &mockStatusRecorderForRouter{}
	router := createTestRouter(t, func(d *RouterDeps) { d.StatusRecorder = rec })

	serve(router, httptest.NewRequest(http.MethodGet, "/api/listings", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))

	if len(rec.codes) != 2 || rec.codes[0] != 200 || rec.codes[1] != 401 {
		t.Errorf("codes = %v, want [200 401]", rec.codes)
	}
}
