package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Robertoarce/wakatto-sub001/internal/bubbles"
	"github.com/Robertoarce/wakatto-sub001/internal/config"
	"github.com/Robertoarce/wakatto-sub001/internal/observability"
	"github.com/Robertoarce/wakatto-sub001/internal/session"
	"github.com/Robertoarce/wakatto-sub001/internal/stage"
	"github.com/Robertoarce/wakatto-sub001/internal/transcript"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{SessionInactivityTimeout: 2 * time.Minute}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	store := transcript.NewInMemoryStore()
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test_httpapi")
	stages := stage.New(stage.Config{
		CharsPerLine:    20,
		LinesPerBubble:  1,
		MinCharsPerLine: 20,
		Clock:           bubbles.NewManualClock(),
	}, sessions, store, metrics, zerolog.Nop())
	t.Cleanup(stages.CloseAll)

	ts := httptest.NewServer(New(cfg, sessions, stages, store, metrics, zerolog.Nop()).Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	out := map[string]any{}
	if res.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	}
	return res.StatusCode, out
}

func createConversation(t *testing.T, ts *httptest.Server, body map[string]any) string {
	t.Helper()
	status, created := doJSON(t, http.MethodPost, ts.URL+"/v1/conversations", body)
	require.Equal(t, http.StatusCreated, status, "create response: %+v", created)
	sessionID, _ := created["session_id"].(string)
	require.NotEmpty(t, sessionID)
	return sessionID
}

func bubbleTexts(t *testing.T, resp map[string]any) []string {
	t.Helper()
	raw, ok := resp["bubbles"].([]any)
	require.True(t, ok, "missing bubbles in %+v", resp)
	texts := make([]string, 0, len(raw))
	for _, b := range raw {
		texts = append(texts, b.(map[string]any)["text"].(string))
	}
	return texts
}

func TestCreateAndEndConversation(t *testing.T) {
	ts := newTestServer(t)

	status, created := doJSON(t, http.MethodPost, ts.URL+"/v1/conversations", map[string]any{
		"user_id":          "user-1",
		"persona_id":       "warm",
		"chars_per_line":   30,
		"lines_per_bubble": 2,
	})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", status, http.StatusCreated)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	assert.Equal(t, float64(30), created["chars_per_line"])
	assert.Equal(t, float64(2), created["lines_per_bubble"])
	assert.Equal(t, float64(120000), created["inactivity_ttl_ms"])

	status, got := doJSON(t, http.MethodGet, ts.URL+"/v1/conversations/"+sessionID, nil)
	require.Equal(t, http.StatusOK, status)
	sess := got["session"].(map[string]any)
	assert.Equal(t, "active", sess["status"])

	status, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/conversations/"+sessionID+"/end", nil)
	if status != http.StatusOK {
		t.Fatalf("end status = %d, want %d", status, http.StatusOK)
	}

	status, body := doJSON(t, http.MethodPost, ts.URL+"/v1/conversations/"+sessionID+"/entities/E/text", map[string]any{"text": "hi"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "session_ended", body["code"])
}

func TestCreateDefaultsAndRejectsNegativeCapacity(t *testing.T) {
	ts := newTestServer(t)

	status, created := doJSON(t, http.MethodPost, ts.URL+"/v1/conversations", nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "anonymous", created["user_id"])
	assert.Equal(t, float64(20), created["chars_per_line"])
	assert.Equal(t, float64(1), created["lines_per_bubble"])

	status, body := doJSON(t, http.MethodPost, ts.URL+"/v1/conversations", map[string]any{"chars_per_line": -1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_capacity", body["code"])
}

func TestUnknownConversation(t *testing.T) {
	ts := newTestServer(t)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/conversations/nope"},
		{http.MethodPost, "/v1/conversations/nope/end"},
		{http.MethodGet, "/v1/conversations/nope/transcript"},
		{http.MethodGet, "/v1/conversations/nope/entities/E/bubbles"},
	} {
		status, body := doJSON(t, tc.method, ts.URL+tc.path, nil)
		assert.Equal(t, http.StatusNotFound, status, "%s %s", tc.method, tc.path)
		assert.Equal(t, "session_not_found", body["code"], "%s %s", tc.method, tc.path)
	}

	status, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/conversations/nope/entities/E/text", map[string]any{"text": "hi"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestTextUpdateAndAnimationComplete(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createConversation(t, ts, map[string]any{"user_id": "user-1"})
	base := ts.URL + "/v1/conversations/" + sessionID + "/entities/E"

	status, resp := doJSON(t, http.MethodPost, base+"/text", map[string]any{
		"text":         "Hello there",
		"is_streaming": true,
	})
	require.Equal(t, http.StatusOK, status, "text response: %+v", resp)
	assert.Equal(t, sessionID, resp["session_id"])
	assert.Equal(t, []string{"Hello there"}, bubbleTexts(t, resp))

	status, resp = doJSON(t, http.MethodPost, base+"/text", map[string]any{"text": "Hello there friend."})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"Hello there friend."}, bubbleTexts(t, resp))

	first := resp["bubbles"].([]any)[0].(map[string]any)
	assert.Equal(t, "left", first["slot"])
	assert.Equal(t, "sliding_in", first["animation"])

	status, resp = doJSON(t, http.MethodPost, base+"/animation", map[string]any{
		"bubble_id": first["id"],
		"animation": "sliding_in",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "idle", resp["bubbles"].([]any)[0].(map[string]any)["animation"])

	status, resp = doJSON(t, http.MethodGet, base+"/bubbles", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"Hello there friend."}, bubbleTexts(t, resp))

	status, body := doJSON(t, http.MethodGet, ts.URL+"/v1/conversations/"+sessionID+"/entities/other/bubbles", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "entity_not_found", body["code"])

	status, body = doJSON(t, http.MethodPost, base+"/animation", map[string]any{"animation": "sliding_in"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["code"])

	status, body = doJSON(t, http.MethodPost, base+"/animation", map[string]any{"bubble_id": "x", "animation": "bouncing"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["code"])
}

func TestClearEntityAndReset(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createConversation(t, ts, nil)
	base := ts.URL + "/v1/conversations/" + sessionID

	for _, entity := range []string{"A", "B"} {
		status, _ := doJSON(t, http.MethodPost, base+"/entities/"+entity+"/text", map[string]any{"text": "Hi."})
		require.Equal(t, http.StatusOK, status)
	}

	status, _ := doJSON(t, http.MethodDelete, base+"/entities/A", nil)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = doJSON(t, http.MethodGet, base+"/entities/A/bubbles", nil)
	assert.Equal(t, http.StatusNotFound, status)

	_, got := doJSON(t, http.MethodGet, base, nil)
	assert.Equal(t, []any{"B"}, got["entities"])

	status, resp := doJSON(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "reset", resp["status"])

	_, got = doJSON(t, http.MethodGet, base, nil)
	assert.Empty(t, got["entities"])
}

func TestTranscriptListsFinishedReplies(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createConversation(t, ts, map[string]any{"user_id": "user-1"})
	base := ts.URL + "/v1/conversations/" + sessionID

	status, resp := doJSON(t, http.MethodGet, base+"/transcript", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, resp["replies"])

	status, _ = doJSON(t, http.MethodPost, base+"/entities/E/text", map[string]any{"text": "Mail me at a@b.co"})
	require.Equal(t, http.StatusOK, status)

	var replies []any
	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); time.Sleep(10 * time.Millisecond) {
		_, resp := doJSON(t, http.MethodGet, base+"/transcript", nil)
		if replies, _ = resp["replies"].([]any); len(replies) > 0 {
			break
		}
	}
	require.Len(t, replies, 1)

	reply := replies[0].(map[string]any)
	assert.Equal(t, "E", reply["entity_id"])
	assert.Equal(t, true, reply["pii_redacted"])
	assert.NotContains(t, reply["text"], "a@b.co")
}

func TestHealthAndPerfRoutes(t *testing.T) {
	ts := newTestServer(t)
	createConversation(t, ts, nil)

	status, health := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["active_sessions"])
	assert.Equal(t, "in-memory", health["transcript_store"])

	status, ready := doJSON(t, http.MethodGet, ts.URL+"/readyz", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", ready["status"])

	status, perf := doJSON(t, http.MethodGet, ts.URL+"/v1/perf/pauses?reset=1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, perf, "window_size")
}

func wsURL(ts *httptest.Server, sessionID string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/conversations/ws?session_id=" + sessionID
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == msgType {
			return msg
		}
	}
}

func TestSessionWebsocket(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createConversation(t, ts, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, sessionID), nil)
	require.NoError(t, err)
	defer conn.Close()

	ready := readUntil(t, conn, "system_event")
	assert.Equal(t, "stage_ready", ready["code"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":       "text_update",
		"session_id": sessionID,
		"entity_id":  "E",
		"text":       "Hello there friend.",
	}))
	snap := readUntil(t, conn, "bubble_snapshot")
	assert.Equal(t, "E", snap["entity_id"])
	assert.Equal(t, []string{"Hello there friend."}, bubbleTexts(t, snap))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	errEvent := readUntil(t, conn, "error_event")
	assert.Equal(t, "invalid_client_message", errEvent["code"])

	status, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/conversations/"+sessionID+"/end", nil)
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg map[string]any
		if err = conn.ReadJSON(&msg); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "read error = %v", err)
}

func TestSessionWebsocketRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)

	_, res, err := websocket.DefaultDialer.Dial(wsURL(ts, "missing"), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	sessionID := createConversation(t, ts, nil)
	header := http.Header{"Origin": []string{"https://elsewhere.example"}}
	_, res, err = websocket.DefaultDialer.Dial(wsURL(ts, sessionID), header)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	status, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/conversations/"+sessionID+"/end", nil)
	require.Equal(t, http.StatusOK, status)
	_, res, err = websocket.DefaultDialer.Dial(wsURL(ts, sessionID), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}
