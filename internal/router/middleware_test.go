package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/config"

	"github.com/gin-gonic/gin"
)

func TestBuildCORSConfig(t *testing.T) {
	wildcard := buildCORSConfig(config.CORSConfig{AllowedOrigins: []string{"*"}})
	if !wildcard.AllowAllOrigins || len(wildcard.AllowOrigins) != 0 {
		t.Fatalf("wildcard should allow all origins, got %+v", wildcard)
	}

	withCredentials := buildCORSConfig(config.CORSConfig{AllowCredentials: true})
	if withCredentials.AllowAllOrigins || withCredentials.AllowOriginFunc == nil {
		t.Fatalf("credentials should echo origin instead of *, got %+v", withCredentials)
	}

	listed := buildCORSConfig(config.CORSConfig{AllowedOrigins: []string{" https://a.example.com ", ""}, MaxAge: 600})
	if listed.AllowAllOrigins || len(listed.AllowOrigins) != 1 || listed.AllowOrigins[0] != "https://a.example.com" {
		t.Fatalf("allow-list should be trimmed, got %+v", listed)
	}
	if listed.MaxAge != 10*time.Minute {
		t.Fatalf("max age want 10m got %s", listed.MaxAge)
	}
}

func TestCORSMiddlewareHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(CORSMiddleware(config.CORSConfig{AllowedOrigins: []string{"*"}}))
	r.POST("/api/v1/affiliate/track-visit", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/affiliate/track-visit", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status want 204 got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": getRequestID(c)})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "req-123")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("response request id want req-123 got %s", w.Header().Get(requestIDHeader))
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	if resp["request_id"] != "req-123" {
		t.Fatalf("context request id want req-123 got %s", resp["request_id"])
	}

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w2, req2)
	if strings.TrimSpace(w2.Header().Get(requestIDHeader)) == "" {
		t.Fatalf("generated request id should not be empty")
	}
}

func TestTimeoutMiddlewareSetsDeadline(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(TimeoutMiddleware(5 * time.Second))
	var deadline time.Time
	var hasDeadline bool
	r.GET("/ping", func(c *gin.Context) {
		deadline, hasDeadline = c.Request.Context().Deadline()
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if !hasDeadline || time.Until(deadline) > 5*time.Second {
		t.Fatalf("expected request deadline within 5s, got %v %v", hasDeadline, deadline)
	}

	r2 := gin.New()
	r2.Use(TimeoutMiddleware(0))
	r2.GET("/ping", func(c *gin.Context) {
		if _, ok := c.Request.Context().Deadline(); ok {
			t.Errorf("zero timeout should not set a deadline")
		}
		c.Status(http.StatusOK)
	})
	r2.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
}

func TestNoRouteHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.NoRoute(NoRouteHandler)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status want 404 got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if body["error"] != "Unknown endpoint" {
		t.Fatalf("unexpected body %v", body)
	}
}
