package http_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	handler "mirrorpost/internal/handler/http"
	"mirrorpost/internal/infra/queue"
)

type fixture struct {
	server    *handler.Server
	router    http.Handler
	prod      *queue.Queue
	test      *queue.Queue
	broadcast *queue.Queue
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	prod, err := queue.New(t.TempDir())
	require.NoError(t, err)
	test, err := queue.New(t.TempDir())
	require.NoError(t, err)
	broadcast, err := queue.New(t.TempDir())
	require.NoError(t, err)

	server := handler.NewServer(
		map[string]*queue.Queue{handler.EnvProd: prod, handler.EnvTest: test},
		broadcast, secret, nil)
	return &fixture{server: server, router: server.Router(), prod: prod, test: test, broadcast: broadcast}
}

const validTrigger = `{
	"text": "Dobrý den světe",
	"embed_code": "",
	"link_to_tweet": "https://twitter.com/foo/status/42",
	"first_link_url": "",
	"username": "foo"
}`

func TestIFTTT_ValidTriggerIsQueued(t *testing.T) {
	f := newFixture(t, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ifttt/twitter", strings.NewReader(validTrigger))
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, "42", resp["post_id"])
	assert.NotEmpty(t, resp["queue_file"])

	pending, err := f.prod.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "foo", pending[0].Job.Username)
	assert.Equal(t, "42", pending[0].Job.PostID)
}

func TestIFTTT_TestEnvironmentSelectsTestQueue(t *testing.T) {
	f := newFixture(t, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ifttt/twitter?env=test", strings.NewReader(validTrigger))
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	pending, _ := f.test.Pending()
	assert.Len(t, pending, 1)
	prodPending, _ := f.prod.Pending()
	assert.Empty(t, prodPending)
}

func TestIFTTT_MalformedJSONIs400(t *testing.T) {
	f := newFixture(t, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ifttt/twitter", strings.NewReader("{not json"))
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	pending, _ := f.prod.Pending()
	assert.Empty(t, pending)
}

func TestIFTTT_MissingStatusIDIs400(t *testing.T) {
	f := newFixture(t, "")

	body := `{"text": "hi", "link_to_tweet": "https://twitter.com/foo", "username": "foo"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ifttt/twitter", strings.NewReader(body))
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestBroadcast_ValidSignatureIsQueued(t *testing.T) {
	f := newFixture(t, "topsecret")
	body := []byte(`{"event": "status.created", "object": {"id": "109"}}`)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/mastodon/broadcast", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature", sign("topsecret", body))
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	pending, err := f.broadcast.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].Name, "_tlambot_109.json")

	// Body preserved verbatim.
	raw := readQueueFile(t, pending[0].Path)
	assert.Equal(t, string(body), raw)
}

func TestBroadcast_FlippedByteIs401AndNoFile(t *testing.T) {
	f := newFixture(t, "topsecret")
	body := []byte(`{"event": "status.created", "object": {"id": "109"}}`)
	signature := sign("topsecret", body)

	tampered := []byte(strings.Replace(string(body), "109", "108", 1))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/mastodon/broadcast", strings.NewReader(string(tampered)))
	req.Header.Set("X-Hub-Signature", signature)
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	pending, _ := f.broadcast.Pending()
	assert.Empty(t, pending)
}

func TestBroadcast_MissingSecretDisablesVerification(t *testing.T) {
	f := newFixture(t, "")
	body := []byte(`{"object": {"id": "110"}}`)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/mastodon/broadcast", strings.NewReader(string(body)))
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Len(t, resp["environments"], 2)
}

func TestStats_CountsPerEnvironment(t *testing.T) {
	f := newFixture(t, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ifttt/twitter", strings.NewReader(validTrigger))
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["prod"]["pending"])
	assert.Equal(t, 0, resp["test"]["pending"])
}

func readQueueFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}
