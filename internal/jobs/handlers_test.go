package jobs

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(f *fixture, maxUpload int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(f.service, maxUpload)
	v1 := r.Group("/v1")
	h.RegisterUploadRoutes(v1)
	h.RegisterRoutes(v1)
	return r
}

func multipartBody(t *testing.T, userID, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if userID != "" {
		require.NoError(t, mw.WriteField("user_id", userID))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

type jobResponse struct {
	Job Job `json:"job"`
}

func TestUploadThenPoll(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f, 0)

	body, ct := multipartBody(t, "alice", "march.csv", "amount,merchant,date\n12.50,Tesco,2024-03-01\n")
	req := httptest.NewRequest("POST", "/v1/uploads", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var created jobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, StatusPending, created.Job.Status)
	assert.Equal(t, TypeParseCSV, created.Job.Type)

	f.runAll(t)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/jobs/"+created.Job.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var polled jobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &polled))
	assert.Equal(t, StatusDone, polled.Job.Status)
	require.NotNil(t, polled.Job.Result)
	assert.Equal(t, 1, polled.Job.Result.Inserted)
}

func TestUpload_Errors(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f, 16)

	// Missing file.
	body, ct := multipartBody(t, "alice", "", "")
	req := httptest.NewRequest("POST", "/v1/uploads", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing user.
	body, ct = multipartBody(t, "", "a.csv", "amount\n1\n")
	req = httptest.NewRequest("POST", "/v1/uploads", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")

	// Too large.
	body, ct = multipartBody(t, "alice", "a.csv", strings.Repeat("1\n", 100))
	req = httptest.NewRequest("POST", "/v1/uploads", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	assert.Equal(t, 0, f.blobs.Len())
}

func TestRescoreHandler(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/rescore", strings.NewReader(`{"user_id":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var created jobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, TypeRescoreAll, created.Job.Type)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/rescore", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobHandlers_Lookup(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f, 0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/jobs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/jobs/6f1c1d0e-8b7a-4c8e-9d1e-2f3a4b5c6d7e", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/jobs?user_id=nobody", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"jobs":[],"count":0}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/jobs", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitMiddleware(t *testing.T) {
	f := newFixture(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var calls int
	h := NewHandler(f.service, 0).WithSubmitMiddleware(func(c *gin.Context) {
		calls++
		c.Next()
	})
	h.RegisterUploadRoutes(r.Group("/v1"))
	h.RegisterRoutes(r.Group("/v1"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/rescore", strings.NewReader(`{"user_id":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/jobs?user_id=alice", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1, calls, "only job submissions pass through submit middleware")
}
