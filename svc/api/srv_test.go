package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"pastebin/cfg"
	"pastebin/pkg/domain"
	"pastebin/svc/cache"
	"pastebin/svc/db"
	"pastebin/svc/svc"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv   *Server
	paste *svc.Paste
	store *db.Store
}

func testConfig() *cfg.Cfg {
	return &cfg.Cfg{
		Host:           "127.0.0.1",
		Port:           "0",
		MaxBodySize:    4000,
		LRUCacheSize:   100,
		WorkerPoolSize: 2,
		ClickQueueSize: 64,
		ContextTimeout: 5 * time.Second,
		AllowedOrigins: []string{"*"},
		RedisTimeout:   time.Second,
		RedisCacheTTL:  time.Hour,
	}
}

func newTestEnv(t *testing.T, c *cfg.Cfg, rdb *db.Redis) *testEnv {
	t.Helper()
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	lru, err := cache.NewLRU(c.LRUCacheSize)
	require.NoError(t, err)
	p := svc.NewPaste(store, lru, rdb, c)
	t.Cleanup(p.Shutdown)
	return &testEnv{srv: NewServer(c, p, store, rdb), paste: p, store: store}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) create(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/create", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func decodePaste(t *testing.T, rec *httptest.ResponseRecorder) domain.Paste {
	t.Helper()
	var p domain.Paste
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p), rec.Body.String())
	return p
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var m map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestCreateGetScenario(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	rec := env.create(t, `{"title":"t1","body":"hello world"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	created := decodePaste(t, rec)
	assert.Equal(t, "t1", created.Title)
	assert.Equal(t, "", created.Body)
	assert.Len(t, created.Hash, 7)
	assert.Equal(t, 0, created.ClickCount)
	assert.NotNil(t, created.CreationDate)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/paste/"+created.Hash, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodePaste(t, rec)
	assert.Equal(t, "t1", first.Title)
	assert.Equal(t, "hello world", first.Body)
	assert.Equal(t, created.Hash, first.Hash)
	assert.Equal(t, 0, first.ClickCount)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/paste/"+created.Hash, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodePaste(t, rec).ClickCount)
}

func TestListPastesHidesBodies(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/pastes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pastes":[]}`, rec.Body.String())

	var hashes []string
	for _, title := range []string{"a", "b", "c"} {
		rec := env.create(t, `{"title":"`+title+`","body":"secret `+title+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		hashes = append(hashes, decodePaste(t, rec).Hash)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/pastes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list domain.PasteList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Pastes, 3)
	for i, p := range list.Pastes {
		assert.Equal(t, hashes[i], p.Hash)
		assert.Empty(t, p.Body)
		assert.Equal(t, 0, p.ClickCount)
	}
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestGetPasteNotFound(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/paste/nothere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeErr(t, rec)
	assert.Equal(t, "paste not found", body["error"])
	assert.NotEmpty(t, body["request_id"])
}

func TestHello(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/hello", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello World!", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	tests := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{"malformed", `{"title":`, http.StatusBadRequest, "invalid request"},
		{"empty", ``, http.StatusBadRequest, "invalid request"},
		{"not an object", `["t","b"]`, http.StatusBadRequest, "invalid request"},
		{"wrong type", `{"title":1,"body":"b"}`, http.StatusBadRequest, "invalid request"},
		{"trailing data", `{"title":"t","body":"b"} {}`, http.StatusBadRequest, "invalid request"},
		{"missing title", `{"body":"b"}`, http.StatusBadRequest, "title required"},
		{"null title", `{"title":null,"body":"b"}`, http.StatusBadRequest, "title required"},
		{"missing body", `{"title":"t"}`, http.StatusBadRequest, "body required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.create(t, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.errMsg, decodeErr(t, rec)["error"])
		})
	}
}

func TestCreateAcceptsEmptyStringsAndUnknownFields(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	rec := env.create(t, `{"title":"","body":"","lang":"go"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decodePaste(t, rec)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/paste/"+created.Hash, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodePaste(t, rec)
	assert.Equal(t, "", got.Title)
	assert.Equal(t, "", got.Body)
}

func TestCreateRequiresJSON(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/create", strings.NewReader(`{"title":"t","body":"b"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := env.do(req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/create", strings.NewReader(`{"title":"t","body":"b"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec = env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateOversizedBody(t *testing.T) {
	c := testConfig()
	c.MaxBodySize = 64
	env := newTestEnv(t, c, nil)
	payload := `{"title":"t","body":"` + strings.Repeat("x", 100) + `"}`

	rec := env.create(t, payload)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "request body too large", decodeErr(t, rec)["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/v1/create", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", strconv.Itoa(len(payload)))
	rec = env.do(req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.create(t, `{"title":"t","body":"fits"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConcurrentCreatesOverHTTP(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	var wg sync.WaitGroup
	hashes := make(chan string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/create",
				strings.NewReader(`{"title":"c`+strconv.Itoa(i)+`","body":"b"}`))
			req.Header.Set("Content-Type", "application/json")
			rec := env.do(req)
			if assert.Equal(t, http.StatusOK, rec.Code) {
				var p domain.Paste
				if assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p)) {
					hashes <- p.Hash
				}
			}
		}(i)
	}
	wg.Wait()
	close(hashes)
	seen := map[string]bool{}
	for h := range hashes {
		seen[h] = true
	}
	assert.Len(t, seen, 2)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/pastes", nil))
	var list domain.PasteList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Pastes, 2)
}

func TestStorageFailureIs500(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	require.NoError(t, env.store.Close())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/pastes", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeErr(t, rec)
	assert.Equal(t, "storage unavailable", body["error"])
	assert.NotContains(t, rec.Body.String(), "sql")

	rec = env.create(t, `{"title":"t","body":"b"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/paste/abcdefg", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCreateDuringShutdownIs503(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.paste.Shutdown()

	rec := env.create(t, `{"title":"t","body":"b"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "service unavailable", body["error"])
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/create", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type, x-custom")
	rec := env.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "content-type, x-custom", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/paste/abcdefg", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	rec = env.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "DELETE", rec.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/pastes", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec = env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	c := testConfig()
	c.AllowedOrigins = []string{"https://a.example"}
	env := newTestEnv(t, c, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hello", nil)
	req.Header.Set("Origin", "https://b.example")
	rec := env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://a.example")
	rec = env.do(req)
	assert.Equal(t, "https://a.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/hello", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	const inbound = "123e4567-e89b-12d3-a456-426614174000"
	req := httptest.NewRequest(http.MethodGet, "/api/v1/paste/nothere", nil)
	req.Header.Set("X-Request-ID", inbound)
	rec = env.do(req)
	assert.Equal(t, inbound, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, inbound, decodeErr(t, rec)["request_id"])
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true,"database":"up","cache":"unavailable"}`, rec.Body.String())

	require.NoError(t, env.store.Close())
	rec = env.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c := testConfig()
	rdb, err := db.NewRedis("redis://"+mr.Addr(), c)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	env := newTestEnv(t, c, rdb)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true,"database":"up","cache":"up"}`, rec.Body.String())

	mr.Close()
	rec = env.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsBasicAuth(t *testing.T) {
	c := testConfig()
	c.MetricsUser = "ops"
	c.MetricsPass = cfg.NewSecret("pw")
	env := newTestEnv(t, c, nil)
	env.do(httptest.NewRequest(http.MethodGet, "/api/v1/hello", nil))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("ops", "pw")
	rec = env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pastebin_request_duration_seconds_count{endpoint="/api/v1/hello",method="GET",status="200"}`)

	req = httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rec = env.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
