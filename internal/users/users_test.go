package users

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_AuthenticateUpserts(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	first, err := svc.Authenticate(ctx, AuthRequest{UserID: " alice ", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice", first.ID)
	assert.Equal(t, "alice@example.com", first.Email)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := svc.Authenticate(ctx, AuthRequest{UserID: "alice", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", second.Email, "empty email keeps stored value")
	assert.Equal(t, "Alice", second.Name)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))

	got, err := svc.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestService_AuthenticateValidation(t *testing.T) {
	svc := NewService(NewMemoryStore())

	tests := []struct {
		name string
		req  AuthRequest
	}{
		{"missing user", AuthRequest{}},
		{"blank user", AuthRequest{UserID: "   "}},
		{"bad user chars", AuthRequest{UserID: "al ice"}},
		{"bad email", AuthRequest{UserID: "alice", Email: "not-an-email"}},
		{"display-name email", AuthRequest{UserID: "alice", Email: "Alice <alice@example.com>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Authenticate(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidUser)
		})
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	u, err := s.Upsert(ctx, &User{ID: "bob", Name: "Bob"})
	require.NoError(t, err)
	u.Name = "mutated"

	got, err := s.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.Name)
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(NewService(NewMemoryStore())).RegisterRoutes(r.Group("/v1"))
	return r
}

func TestHandler_Auth(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/auth", strings.NewReader(`{"user_id":"alice","email":"alice@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"alice"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/users/alice", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/users/nobody", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_AuthErrors(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/auth", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/auth", strings.NewReader(`{"user_id":""}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
}
