package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pasarmalam/internal/middleware"
	"github.com/hitoshi/pasarmalam/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn       func(ctx context.Context, email, password, displayName string) (*model.User, *model.Session, error)
	loginFn          func(ctx context.Context, email, password string) (*model.User, *model.Session, error)
	exchangeFn       func(ctx context.Context, externalToken string) (*model.User, *model.Session, error)
	legacyLoginFn    func(ctx context.Context, displayName string) (*model.User, *model.Session, error)
	logoutFn         func(ctx context.Context, token string) error
	updateProfileFn  func(ctx context.Context, token string, update model.ProfileUpdate) (*model.User, error)
	oauthEnabled     bool
	getLoginURLFn    func(state string) string
	googleCallbackFn func(ctx context.Context, code string) (*model.User, *model.Session, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, password, displayName string) (*model.User, *model.Session, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password, displayName)
	}
	return nil, nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.User, *model.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil, nil
}

func (m *mockAuthService) ExchangeExternalSession(ctx context.Context, externalToken string) (*model.User, *model.Session, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, externalToken)
	}
	return nil, nil, nil
}

func (m *mockAuthService) LegacyLogin(ctx context.Context, displayName string) (*model.User, *model.Session, error) {
	if m.legacyLoginFn != nil {
		return m.legacyLoginFn(ctx, displayName)
	}
	return nil, nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) UpdateProfile(ctx context.Context, token string, update model.ProfileUpdate) (*model.User, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, token, update)
	}
	return nil, nil
}

func (m *mockAuthService) OAuthEnabled() bool { return m.oauthEnabled }

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleGoogleCallback(ctx context.Context, code string) (*model.User, *model.Session, error) {
	if m.googleCallbackFn != nil {
		return m.googleCallbackFn(ctx, code)
	}
	return nil, nil, nil
}

type mockListingService struct {
	createFn func(ctx context.Context, drafts []model.ListingDraft) ([]*model.Listing, error)
	listFn   func(ctx context.Context, filter model.ListingFilter) ([]*model.Listing, error)
	getFn    func(ctx context.Context, id string) (*model.Listing, error)
	updateFn func(ctx context.Context, id string, patch model.ListingPatch) (*model.Listing, error)
	deleteFn func(ctx context.Context, id string) error
}

func (m *mockListingService) Create(ctx context.Context, drafts []model.ListingDraft) ([]*model.Listing, error) {
	if m.createFn != nil {
		return m.createFn(ctx, drafts)
	}
	return nil, nil
}

func (m *mockListingService) List(ctx context.Context, filter model.ListingFilter) ([]*model.Listing, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockListingService) Get(ctx context.Context, id string) (*model.Listing, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewListingNotFoundError(id)
}

func (m *mockListingService) Update(ctx context.Context, id string, patch model.ListingPatch) (*model.Listing, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	return nil, nil
}

func (m *mockListingService) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

type mockBidPlacer struct {
	placeBidFn func(ctx context.Context, listingID, bidderID string, amount float64) (float64, error)
}

func (m *mockBidPlacer) PlaceBid(ctx context.Context, listingID, bidderID string, amount float64) (float64, error) {
	if m.placeBidFn != nil {
		return m.placeBidFn(ctx, listingID, bidderID, amount)
	}
	return amount, nil
}

type mockCommentService struct {
	addFn    func(ctx context.Context, listingID, sessionToken, text string) (*model.Comment, error)
	deleteFn func(ctx context.Context, listingID, commentID, sessionToken string) error
}

func (m *mockCommentService) AddComment(ctx context.Context, listingID, sessionToken, text string) (*model.Comment, error) {
	if m.addFn != nil {
		return m.addFn(ctx, listingID, sessionToken, text)
	}
	return nil, nil
}

func (m *mockCommentService) DeleteComment(ctx context.Context, listingID, commentID, sessionToken string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, listingID, commentID, sessionToken)
	}
	return nil
}

type mockGameSearcher struct {
	searchFn func(ctx context.Context, query string) []model.GameCandidate
}

func (m *mockGameSearcher) Search(ctx context.Context, query string) []model.GameCandidate {
	if m.searchFn != nil {
		return m.searchFn(ctx, query)
	}
	return nil
}

type mockExtractor struct {
	scanImageFn func(ctx context.Context, imageBase64 string) ([]model.ListingDraft, error)
	parseTextFn func(ctx context.Context, text string, hintType model.ListingType) ([]model.ListingDraft, error)
}

func (m *mockExtractor) ScanImage(ctx context.Context, imageBase64 string) ([]model.ListingDraft, error) {
	if m.scanImageFn != nil {
		return m.scanImageFn(ctx, imageBase64)
	}
	return nil, nil
}

func (m *mockExtractor) ParseText(ctx context.Context, text string, hintType model.ListingType) ([]model.ListingDraft, error) {
	if m.parseTextFn != nil {
		return m.parseTextFn(ctx, text, hintType)
	}
	return nil, nil
}

// compile-time interface checks
var (
	_ AuthServiceInterface    = (*mockAuthService)(nil)
	_ ListingServiceInterface = (*mockListingService)(nil)
	_ BidPlacer               = (*mockBidPlacer)(nil)
	_ CommentServiceInterface = (*mockCommentService)(nil)
	_ GameSearcher            = (*mockGameSearcher)(nil)
	_ ListingExtractor        = (*mockExtractor)(nil)
)

// --- テストヘルパー ---

// withUser はテスト用にリクエストコンテキストに認証済みユーザーを注入する。
func withUser(r *http.Request, userID, token string) *http.Request {
	ctx := middleware.ContextWithUser(r.Context(), &model.User{ID: userID, DisplayName: "User " + userID}, token)
	return r.WithContext(ctx)
}

// withChiURLParams はテスト用にchiのURLパラメータを注入する。kvはキーと値の組。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースする。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func floatPtr(v float64) *float64 { return &v }
