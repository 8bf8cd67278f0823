package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"featuregate/internal/dto/req"
	"featuregate/internal/dto/resp"
	"featuregate/internal/middleware"
	"featuregate/internal/resolver"
	"featuregate/internal/service"
	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
}

type fakeFeatures struct {
	resolved []v1.ResolvedFeature
	prefs    map[string]bool
	lastSub  resolver.Subject
}

func (f *fakeFeatures) Resolve(ctx context.Context, sub resolver.Subject, key string) (v1.FeatureCheck, error) {
	for _, r := range f.resolved {
		if r.Key == key {
			return v1.FeatureCheck{Key: key, Enabled: r.Enabled, Source: r.Source}, nil
		}
	}
	return v1.FeatureCheck{Key: key}, nil
}

func (f *fakeFeatures) ResolveAll(ctx context.Context, sub resolver.Subject, filter resolver.Filter) ([]v1.ResolvedFeature, error) {
	f.lastSub = sub
	return f.resolved, nil
}

func (f *fakeFeatures) SetPreference(ctx context.Context, sub resolver.Subject, key string, enabled bool) error {
	if key != "ai_suggestions" {
		return service.ErrNotToggleable
	}
	f.prefs[key] = enabled
	return nil
}

func (f *fakeFeatures) UpgradeOptions(ctx context.Context, sub resolver.Subject, key string) ([]resp.PackageItem, error) {
	if key != "rent_reports" {
		return nil, service.ErrFlagNotFound
	}
	return []resp.PackageItem{{Key: "premium", Name: "Premium"}}, nil
}

func (f *fakeFeatures) RecordEvent(ctx context.Context, sub resolver.Subject, key, eventType string, props map[string]any) error {
	return nil
}

// fakeAdmin implements only what the tests call.
type fakeAdmin struct {
	AdminProvider
	flags map[string]bool
}

func (a *fakeAdmin) CreateFlag(ctx context.Context, in req.CreateFlagRequest) (*resp.FlagItem, error) {
	if a.flags[in.Key] {
		return nil, service.ErrDuplicateKey
	}
	a.flags[in.Key] = true
	return &resp.FlagItem{Key: in.Key, Name: in.Name, Version: 1, UpdatedBy: service.GetOperator(ctx)}, nil
}

func (a *fakeAdmin) GetFlag(ctx context.Context, key string) (*resp.FlagDetail, error) {
	if !a.flags[key] {
		return nil, service.ErrFlagNotFound
	}
	return &resp.FlagDetail{FlagItem: resp.FlagItem{Key: key}}, nil
}

func (a *fakeAdmin) UpsertAccess(ctx context.Context, key string, in req.UpsertAccessRequest) (int, error) {
	return 2, nil
}

func (a *fakeAdmin) ClearOverride(ctx context.Context, key, scopeType string, scopeID uuid.UUID) (int, error) {
	return 0, service.ErrOverrideNotFound
}

func (a *fakeAdmin) Health(ctx context.Context) error { return nil }

type fakeStream struct{}

func (fakeStream) GetCompensation(lastRev int64) ([]v1.Message, bool) { return nil, true }
func (fakeStream) Snapshot() ([]v1.FlagDocument, int64) {
	return []v1.FlagDocument{{Key: "document_vault", Enabled: true, Version: 2, Revision: 41}}, 42
}

type fakeTokens map[string]*service.UserClaims

func (t fakeTokens) ParseAccess(token string) (*service.UserClaims, error) {
	if c, ok := t[token]; ok {
		return c, nil
	}
	return nil, service.ErrTokenInvalid
}

type fakeSDKKeys struct{}

func (fakeSDKKeys) ValidateAPIKey(ctx context.Context, key string) (bool, error) {
	return key == "sdk-key", nil
}

type fakeAuth struct{}

func (fakeAuth) Login(ctx context.Context, in req.LoginReq) (*resp.TokenResp, error) {
	return nil, service.ErrInvalidCredentials
}
func (fakeAuth) Refresh(ctx context.Context, token string) (*resp.TokenResp, error) {
	return nil, service.ErrTokenInvalid
}
func (fakeAuth) Logout(ctx context.Context, userID string) error { return nil }

type testServer struct {
	engine   *gin.Engine
	features *fakeFeatures
	admin    *fakeAdmin
	tenant   *service.UserClaims
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := service.NewHub(nil, time.Hour, 8)
	go hub.Run(ctx)

	features := &fakeFeatures{
		prefs: map[string]bool{},
		resolved: []v1.ResolvedFeature{
			{Key: "ai_suggestions", Enabled: false, AccessState: "optional", CanToggle: true, Source: "default"},
			{Key: "document_vault", Enabled: true, AccessState: "included", Source: "default"},
		},
	}
	admin := &fakeAdmin{flags: map[string]bool{"document_vault": true}}
	tenant := &service.UserClaims{
		UserID: uuid.NewString(), Username: "jane", Role: "member",
		OrgID: uuid.NewString(), UserType: "tenant",
	}
	operator := &service.UserClaims{UserID: uuid.NewString(), Username: "ops", Role: "admin"}

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0", DialTimeout: 10 * time.Millisecond, MaxRetries: 0})
	engine := RegisterRoutes(Deps{
		Features:   NewFeatureHandler(features, hub),
		Admin:      NewAdminHandler(admin),
		Streams:    NewStreamHandler(fakeStream{}, hub),
		Auth:       NewAuthHandler(fakeAuth{}),
		Tokens:     fakeTokens{"tenant": tenant, "ops": operator},
		SDKKeys:    fakeSDKKeys{},
		Limiter:    middleware.NewRateLimiter(rdb, "ratelimit:", 1000),
		AdminRoles: []string{"admin"},
	})
	return &testServer{engine: engine, features: features, admin: admin, tenant: tenant}
}

func (s *testServer) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, r)
	return w
}

func TestResolved_ETag(t *testing.T) {
	s := newTestServer(t)

	w := s.do("GET", "/v1/features/resolved", "tenant", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}
	var body resp.ResolvedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || len(body.Data) != 2 {
		t.Fatalf("body = %s, %v", w.Body.String(), err)
	}
	if s.features.lastSub.UserID.String() != s.tenant.UserID || s.features.lastSub.UserType != "tenant" {
		t.Errorf("subject not taken from the token: %+v", s.features.lastSub)
	}

	w = s.do("GET", "/v1/features/resolved", "tenant", "", "If-None-Match", etag)
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Errorf("expected 304 with empty body, got %d", w.Code)
	}

	s.features.resolved[0].Enabled = true
	w = s.do("GET", "/v1/features/resolved", "tenant", "", "If-None-Match", etag)
	if w.Code != http.StatusOK || w.Header().Get("ETag") == etag {
		t.Errorf("changed body should produce a new ETag, got %d", w.Code)
	}
}

func TestFeatureRoutes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"no token", "GET", "/v1/features/resolved", "", "", http.StatusUnauthorized},
		{"operator is not a subject", "GET", "/v1/features/resolved", "ops", "", http.StatusForbidden},
		{"check unknown key", "GET", "/v1/features/unknown_flag/check", "tenant", "", http.StatusOK},
		{"invalid key", "GET", "/v1/features/Bad-Key/check", "tenant", "", http.StatusBadRequest},
		{"set preference", "POST", "/v1/features/ai_suggestions/preference", "tenant", `{"enabled":true}`, http.StatusOK},
		{"preference needs a value", "POST", "/v1/features/ai_suggestions/preference", "tenant", `{}`, http.StatusBadRequest},
		{"not toggleable", "POST", "/v1/features/document_vault/preference", "tenant", `{"enabled":true}`, http.StatusBadRequest},
		{"upgrade options", "GET", "/v1/features/rent_reports/upgrade-options", "tenant", "", http.StatusOK},
		{"upgrade options unknown", "GET", "/v1/features/nope/upgrade-options", "tenant", "", http.StatusNotFound},
		{"event", "POST", "/v1/features/ai_suggestions/events", "tenant", `{"event_type":"viewed"}`, http.StatusAccepted},
		{"bad event type", "POST", "/v1/features/ai_suggestions/events", "tenant", `{"event_type":"clicked"}`, http.StatusBadRequest},
		{"login rejected", "POST", "/v1/auth/login", "", `{"username":"admin","password":"x"}`, http.StatusUnauthorized},
		{"profile", "GET", "/v1/auth/me", "tenant", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.method, tt.path, tt.token, tt.body)
			if w.Code != tt.want {
				t.Errorf("got %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
	if !s.features.prefs["ai_suggestions"] {
		t.Error("preference was not forwarded to the service")
	}
}

func TestNotToggleableErrorBody(t *testing.T) {
	s := newTestServer(t)
	w := s.do("POST", "/v1/features/document_vault/preference", "tenant", `{"enabled":true}`)
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != service.ErrNotToggleable.Error() {
		t.Errorf("error body = %v", body)
	}
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"tenant is forbidden", "GET", "/v1/admin/features/document_vault", "tenant", "", http.StatusForbidden},
		{"get flag", "GET", "/v1/admin/features/document_vault", "ops", "", http.StatusOK},
		{"get unknown flag", "GET", "/v1/admin/features/missing", "ops", "", http.StatusNotFound},
		{"create flag", "POST", "/v1/admin/features", "ops", `{"key":"bulk_export","name":"Bulk export"}`, http.StatusCreated},
		{"create duplicate", "POST", "/v1/admin/features", "ops", `{"key":"document_vault","name":"Vault"}`, http.StatusConflict},
		{"create invalid key", "POST", "/v1/admin/features", "ops", `{"key":"Bulk Export","name":"x"}`, http.StatusBadRequest},
		{"upsert access", "PUT", "/v1/admin/features/document_vault/access", "ops", `{"user_type":"tenant","access_state":"optional"}`, http.StatusOK},
		{"invalid access state", "PUT", "/v1/admin/features/document_vault/access", "ops", `{"user_type":"tenant","access_state":"sometimes"}`, http.StatusBadRequest},
		{"clear missing override", "DELETE", "/v1/admin/features/document_vault/overrides?scope_type=user&scope_id=" + uuid.NewString(), "ops", "", http.StatusNotFound},
		{"clear override bad scope id", "DELETE", "/v1/admin/features/document_vault/overrides?scope_type=user&scope_id=x", "ops", "", http.StatusBadRequest},
		{"health", "GET", "/health", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.method, tt.path, tt.token, tt.body)
			if w.Code != tt.want {
				t.Errorf("got %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSnapshotRequiresSDKKey(t *testing.T) {
	s := newTestServer(t)

	if w := s.do("GET", "/v1/stream/snapshot", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("without key got %d", w.Code)
	}
	w := s.do("GET", "/v1/stream/snapshot", "", "", "X-Api-Key", "sdk-key")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var snap resp.SnapshotResponse
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Revision != 42 || len(snap.Data) != 1 || snap.Data[0].Key != "document_vault" {
		t.Errorf("snapshot = %+v", snap)
	}
}
