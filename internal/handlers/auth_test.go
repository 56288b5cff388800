package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/hup-social/connect/config"
	"github.com/hup-social/connect/internal/middleware"
)

const testSecret = "test-secret"

func testRouter(api *API) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/auth/login", api.Login)
	authed := router.Group("/", middleware.JWTAuth(api.Config.JWTSecret))
	authed.GET("/api/sessions/:sessionId", api.GetSession)
	return router
}

func testAPI() *API {
	return &API{
		Config:  &config.Config{JWTSecret: testSecret},
		History: newMemoryHistory(),
	}
}

func mintToken(t *testing.T, userID string) string {
	t.Helper()
	claims := middleware.JWTClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestLoginIssuesToken(t *testing.T) {
	router := testRouter(testAPI())

	body := strings.NewReader(`{"username":"alice","password":"whatever"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}

	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.UserID != "alice" {
		t.Fatalf("user_id %q", resp.UserID)
	}

	// The issued token must parse and carry the user identity.
	claims := &middleware.JWTClaims{}
	token, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("issued token invalid: %v", err)
	}
	if claims.UserID != "alice" {
		t.Fatalf("token user_id %q", claims.UserID)
	}
}

func TestLoginRejectsMissingFields(t *testing.T) {
	router := testRouter(testAPI())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestJWTAuthHeaderAndQuery(t *testing.T) {
	router := testRouter(testAPI())
	token := mintToken(t, "alice")

	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"bearer header", "/api/sessions/none", "Bearer " + token, http.StatusNotFound},
		{"query token", "/api/sessions/none?token=" + token, "", http.StatusNotFound},
		{"no token", "/api/sessions/none", "", http.StatusUnauthorized},
		{"garbage token", "/api/sessions/none", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestJWTAuthRejectsWrongSecret(t *testing.T) {
	router := testRouter(testAPI())

	claims := middleware.JWTClaims{UserID: "alice"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/none", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}
