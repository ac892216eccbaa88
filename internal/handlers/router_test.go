package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/consult-signaling/internal/middleware"
	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/mossy-p/consult-signaling/internal/records"
	"github.com/mossy-p/consult-signaling/internal/registry"
	"github.com/mossy-p/consult-signaling/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fakeRecords struct {
	calls []string
}

func (f *fakeRecords) Fetch(_ context.Context, roomID string) records.Bundle {
	f.calls = append(f.calls, roomID)
	return records.Bundle{RoomID: roomID, Summaries: []json.RawMessage{}, Prescriptions: []json.RawMessage{}}
}

type fakeTranslator struct{}

func (fakeTranslator) Translate(_ context.Context, text, target, _ string) string {
	return "[" + target + "] " + text
}

func (fakeTranslator) Detect(_ context.Context, text string) string {
	if text == "" {
		return "auto"
	}
	return "es"
}

type testEnv struct {
	router  *gin.Engine
	reg     *registry.Registry
	relay   *signaling.Relay
	records *fakeRecords
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New(registry.NewMemoryStore())
	relay := signaling.NewRelay(reg)
	recs := &fakeRecords{}

	return &testEnv{
		router: NewRouter(Deps{
			AllowedOrigins: []string{"http://localhost:5173"},
			JWTSecret:      testSecret,
			Relay:          relay,
			Rooms:          reg,
			Records:        recs,
			Translator:     fakeTranslator{},
		}),
		reg:     reg,
		relay:   relay,
		records: recs,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestOriginFilter(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil, http.Header{"Origin": {"http://evil.example"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/health", nil, http.Header{"Origin": {"http://localhost:5173"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	w = env.do(t, http.MethodOptions, "/api/translate", nil, http.Header{"Origin": {"http://localhost:5173"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLoginIssuesToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "dr.house", Password: "x"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "dr.house", resp.UserID)

	claims, err := middleware.ParseToken(resp.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "dr.house", claims.UserID)

	w = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.reg.Join(ctx, "1234", "abc123", nil)
	require.NoError(t, err)
	_, err = env.reg.Join(ctx, "1234", "xyz789", nil)
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/api/rooms/1234", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap models.RoomSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "1234", snap.ID)
	require.Len(t, snap.Members, 2)
	assert.Equal(t, models.RoleDoctor, snap.Members[0].Role)
	assert.True(t, snap.Members[0].IsFirst)
	assert.Equal(t, models.RolePatient, snap.Members[1].Role)
	assert.False(t, snap.Members[1].IsFirst)

	w = env.do(t, http.MethodGet, "/api/rooms", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rooms":["1234"]}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/rooms/empty", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"empty","members":[]}`, w.Body.String())
}

func TestGetRecordRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/rooms/1234/record", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/rooms/1234/record", nil, http.Header{"Authorization": {"Token abc"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	bad, err := middleware.IssueToken("dr.house", "other-secret", time.Hour)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/api/rooms/1234/record", nil, http.Header{"Authorization": {"Bearer " + bad}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := middleware.IssueToken("dr.house", testSecret, -time.Minute)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/api/rooms/1234/record", nil, http.Header{"Authorization": {"Bearer " + expired}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Empty(t, env.records.calls)

	token, err := middleware.IssueToken("dr.house", testSecret, time.Hour)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/api/rooms/1234/record", nil, http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"1234"}, env.records.calls)
}

func TestTranslateAndDetect(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/translate", models.TranslateRequest{Text: "hola", Target: "en"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"text":"[en] hola"}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/translate", models.TranslateRequest{Text: "hola", Target: "auto"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/translate", models.TranslateRequest{Text: "hola"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/detect", models.DetectRequest{Text: "hola"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"language":"es"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/languages", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"en"`)
}

// wsClient is a raw websocket peer of the relay.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, url string) *wsClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &wsClient{t: t, conn: conn}
	ev := c.read()
	require.Equal(t, models.EventWelcome, ev.Event)
	var w models.Welcome
	require.NoError(t, ev.Decode(&w))
	c.id = w.ID
	return c
}

func (c *wsClient) send(kind models.EventType, data any) {
	ev, err := models.NewEvent(kind, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(ev))
}

func (c *wsClient) read() models.Event {
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.Event
	require.NoError(c.t, c.conn.ReadJSON(&ev))
	return ev
}

func TestWebsocketSignaling(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(func() {
		env.relay.Shutdown()
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal"

	a := dial(t, url)
	a.send(models.EventJoinRoom, "1234")
	assert.Equal(t, models.EventAllUsers, a.read().Event)
	var role models.UserRole
	require.NoError(t, a.read().Decode(&role))
	assert.Equal(t, models.UserRole{Role: models.RoleDoctor, IsFirst: true}, role)

	b := dial(t, url)
	b.send(models.EventJoinRoom, "1234")
	var others []string
	require.NoError(t, b.read().Decode(&others))
	assert.Equal(t, []string{a.id}, others)
	require.NoError(t, b.read().Decode(&role))
	assert.Equal(t, models.RolePatient, role.Role)

	var joined string
	ev := a.read()
	require.Equal(t, models.EventUserJoined, ev.Event)
	require.NoError(t, ev.Decode(&joined))
	assert.Equal(t, b.id, joined)

	b.send(models.EventSignal, models.Signal{To: a.id, Data: json.RawMessage(`{"type":"offer","sdp":{"type":"offer","sdp":"v=0"}}`)})
	ev = a.read()
	require.Equal(t, models.EventSignal, ev.Event)
	var sig models.Signal
	require.NoError(t, ev.Decode(&sig))
	assert.Equal(t, b.id, sig.From)

	b.conn.Close()
	ev = a.read()
	require.Equal(t, models.EventUserDisconnected, ev.Event)
	var gone string
	require.NoError(t, ev.Decode(&gone))
	assert.Equal(t, b.id, gone)

	require.Eventually(t, func() bool {
		members, err := env.reg.MembersOf(context.Background(), "1234")
		return err == nil && len(members) == 1
	}, time.Second, 10*time.Millisecond)
}
