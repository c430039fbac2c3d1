package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-importer/internal/logger"
)

func echoUser(w http.ResponseWriter, r *http.Request) {
	id, _ := UserIDFromContext(r.Context())
	WriteJSON(w, http.StatusOK, map[string]string{"user_id": id})
}

func TestAuth_JWT(t *testing.T) {
	const secret = "test-secret"
	h := Auth(secret, "/health")(http.HandlerFunc(echoUser))

	valid, err := NewToken(secret, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	expired, _ := NewToken(secret, "user-1", -time.Minute)
	wrongKey, _ := NewToken("other-secret", "user-1", time.Hour)
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-1"}).SignedString([]byte(secret))

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"valid token", "/api/imports", "Bearer " + valid, http.StatusOK, "user-1"},
		{"missing header", "/api/imports", "", http.StatusUnauthorized, ""},
		{"not bearer", "/api/imports", valid, http.StatusUnauthorized, ""},
		{"expired", "/api/imports", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong key", "/api/imports", "Bearer " + wrongKey, http.StatusUnauthorized, ""},
		{"no expiry", "/api/imports", "Bearer " + noExp, http.StatusUnauthorized, ""},
		{"public path", "/health", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				var body map[string]string
				_ = json.NewDecoder(rec.Body).Decode(&body)
				if body["user_id"] != tt.wantUser {
					t.Errorf("user_id = %q, want %q", body["user_id"], tt.wantUser)
				}
			}
		})
	}
}

func TestAuth_DevHeader(t *testing.T) {
	h := Auth("")(http.HandlerFunc(echoUser))

	req := httptest.NewRequest(http.MethodGet, "/api/imports", nil)
	req.Header.Set(UserIDHeader, "dev-user")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "dev-user") {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/imports", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without header = %d, want 401", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(remote, user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if user != "" {
			req = req.WithContext(WithUserID(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := do("10.0.0.1:1234", ""); code != http.StatusNoContent {
			t.Fatalf("request %d = %d, want 204", i, code)
		}
	}
	if code := do("10.0.0.1:5678", ""); code != http.StatusTooManyRequests {
		t.Errorf("third request from same IP = %d, want 429", code)
	}
	if code := do("10.0.0.2:1234", ""); code != http.StatusNoContent {
		t.Errorf("other IP = %d, want 204", code)
	}
	if code := do("10.0.0.1:1234", "user-1"); code != http.StatusNoContent {
		t.Errorf("authenticated user on busy IP = %d, want 204", code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := RateLimit(0, 0)(next)
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
}

func TestRequestID_LoggerCarriesID(t *testing.T) {
	buf := &bytes.Buffer{}
	base := logger.NewWithWriter(buf)

	h := RequestID(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		log.Info().Msg("inside")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") != "req-42" {
		t.Errorf("X-Request-ID = %q", rec.Header().Get("X-Request-ID"))
	}
	if !strings.Contains(buf.String(), `"request_id":"req-42"`) {
		t.Errorf("log output missing request_id: %s", buf.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("no request ID generated")
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/imports", nil))
	if rec.Code != http.StatusNoContent || called {
		t.Errorf("status = %d, called = %v", rec.Code, called)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), UserIDHeader) {
		t.Errorf("allow headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}
