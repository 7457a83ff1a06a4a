package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scenehub/internal/channels"
	"scenehub/internal/config"
	"scenehub/internal/notify"
	"scenehub/internal/presence"
	"scenehub/internal/scene"
)

type fakeSession struct {
	userID  int64
	scene   string
	page    string
	data    map[string]any
	updates int
	ended   bool
}

func (s *fakeSession) UserID() int64        { return s.userID }
func (s *fakeSession) SceneName() string    { return s.scene }
func (s *fakeSession) CurrentPage() string  { return s.page }
func (s *fakeSession) Data() map[string]any { return s.data }

func (s *fakeSession) UpdateMessage(ctx context.Context) error {
	s.updates++
	return nil
}

func (s *fakeSession) End(ctx context.Context) error {
	s.ended = true
	return nil
}

type fakeExecutor struct {
	sendCalls int
	lastText  string
}

func (f *fakeExecutor) SendMessage(ctx context.Context, userID int64, text string, opts channels.SendOptions) (channels.MessageRef, error) {
	f.sendCalls++
	f.lastText = text
	return channels.MessageRef{Channel: "telegram", ChatID: userID, MessageID: 1}, nil
}

func (f *fakeExecutor) EditMessage(ctx context.Context, ref channels.MessageRef, text string) error {
	return nil
}

func (f *fakeExecutor) DeleteMessage(ctx context.Context, ref channels.MessageRef) error {
	return nil
}

func (f *fakeExecutor) StartPolling(ctx context.Context) error { return nil }
func (f *fakeExecutor) IsAvailable() bool                      { return true }
func (f *fakeExecutor) Type() string                           { return "telegram" }

type fakeExecutors struct {
	executor channels.Executor
}

func (f *fakeExecutors) Get(name string) (channels.Executor, bool) {
	if f.executor == nil || f.executor.Type() != name {
		return nil, false
	}
	return f.executor, true
}

func (f *fakeExecutors) Names() []string {
	if f.executor == nil {
		return nil
	}
	return []string{f.executor.Type()}
}

type harness struct {
	server    *Server
	directory *scene.Directory
	tracker   *presence.Tracker
	executor  *fakeExecutor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	directory := scene.NewDirectory(nil)
	broadcaster := scene.NewBroadcaster(directory, nil)
	tracker := presence.NewTracker(nil)
	executor := &fakeExecutor{}
	executors := &fakeExecutors{executor: executor}
	dispatcher := notify.NewDispatcher(directory, executors, "telegram", nil)

	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 0, AllowOrigins: []string{"*"}}, Deps{
		Directory:   directory,
		Broadcaster: broadcaster,
		Dispatcher:  dispatcher,
		Tracker:     tracker,
		Executors:   executors,
	})
	return &harness{server: srv, directory: directory, tracker: tracker, executor: executor}
}

func (h *harness) addSession(t *testing.T, s *fakeSession) {
	t.Helper()
	_, err := h.directory.Create(s.userID, func() (scene.Session, error) { return s, nil })
	require.NoError(t, err)
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func TestUpdateScenesAll(t *testing.T) {
	h := newHarness(t)
	a := &fakeSession{userID: 1, scene: "card_edit", page: "detail"}
	b := &fakeSession{userID: 2, scene: "task_view", page: "list"}
	h.addSession(t, a)
	h.addSession(t, b)

	w := h.do(t, http.MethodPost, "/api/scenes/update", `{}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp UpdateScenesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.TotalActiveScenes)
	assert.Equal(t, 2, resp.UpdatedScenes)
	assert.Equal(t, 1, a.updates)
	assert.Equal(t, 1, b.updates)
}

func TestUpdateScenesFiltered(t *testing.T) {
	h := newHarness(t)
	a := &fakeSession{userID: 1, scene: "card_edit", page: "detail", data: map[string]any{"card_id": 100}}
	b := &fakeSession{userID: 2, scene: "card_edit", page: "detail", data: map[string]any{"card_id": 200}}
	h.addSession(t, a)
	h.addSession(t, b)

	w := h.do(t, http.MethodPost, "/api/scenes/update",
		`{"scene_name":"card_edit","data_key":"card_id","data_value":"100"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp UpdateScenesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalActiveScenes)
	assert.Equal(t, 1, resp.UpdatedScenes)
	assert.Equal(t, 1, a.updates)
	assert.Zero(t, b.updates)
}

func TestUpdateScenesClose(t *testing.T) {
	h := newHarness(t)
	a := &fakeSession{userID: 1, scene: "card_edit", page: "detail"}
	h.addSession(t, a)

	w := h.do(t, http.MethodPost, "/api/scenes/update", `{"action":"close"}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, a.ended)
	assert.Equal(t, 0, h.directory.Len())
}

func TestUpdateScenesUnknownAction(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/scenes/update", `{"action":"explode"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown action")
}

func TestUpdateScenesMalformedBody(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/scenes/update", `{"scene_name":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotifyDelivered(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/notify", `{"user_id":42,"message":"card moved"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp NotifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Sent)
	assert.Equal(t, 1, h.executor.sendCalls)
	assert.Equal(t, "card moved", h.executor.lastText)
}

func TestNotifySkipIfPageString(t *testing.T) {
	h := newHarness(t)
	h.addSession(t, &fakeSession{userID: 42, scene: "card_edit", page: "card_detail"})

	w := h.do(t, http.MethodPost, "/api/notify",
		`{"user_id":42,"message":"hi","skip_if_page":"card_detail"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp NotifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "skipped", resp.Status)
	assert.False(t, resp.Sent)
	assert.Zero(t, h.executor.sendCalls)
}

func TestNotifySkipIfPageArray(t *testing.T) {
	h := newHarness(t)
	h.addSession(t, &fakeSession{userID: 42, scene: "card_edit", page: "card_list"})

	w := h.do(t, http.MethodPost, "/api/notify",
		`{"user_id":42,"message":"hi","skip_if_page":["card_detail","card_list"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp NotifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "skipped", resp.Status)
}

func TestNotifyMissingFields(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/notify", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "user_id")

	w = h.do(t, http.MethodPost, "/api/notify", `{"user_id":42}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "message")
}

func TestNotifyLogicalErrorIs200(t *testing.T) {
	h := newHarness(t)
	// Swap in a dispatcher with no executor registered.
	h.server.dispatcher = notify.NewDispatcher(h.directory, &fakeExecutors{}, "telegram", nil)

	w := h.do(t, http.MethodPost, "/api/notify", `{"user_id":42,"message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp NotifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Sent)
	assert.NotEmpty(t, resp.Error)
}

func TestPresenceTouchAndGet(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/presence/card-7/touch",
		`{"user_id":1,"display_name":"Alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodPost, "/api/presence/card-7/touch",
		`{"user_id":2,"display_name":"Bob"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/api/presence/card-7", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp PresenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.ElementsMatch(t, []string{"Alice", "Bob"}, resp.Viewers)
}

func TestPresenceExcludeUser(t *testing.T) {
	h := newHarness(t)
	h.tracker.Touch("card-7", 1, "Alice")
	h.tracker.Touch("card-7", 2, "Bob")

	w := h.do(t, http.MethodGet, "/api/presence/card-7?exclude_user_id=1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp PresenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Bob"}, resp.Viewers)
}

func TestPresenceBadExclude(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/presence/card-7?exclude_user_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPresenceEmptyItem(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/presence/ghost", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"viewers":[]`)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	h.addSession(t, &fakeSession{userID: 1, scene: "card_edit"})

	w := h.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.ActiveScenes)
	assert.Equal(t, []string{"telegram"}, resp.Channels)
}

func TestUnsupportedContentType(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/notify", strings.NewReader("user_id=42"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/health", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestStringListUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  StringList
		fails bool
	}{
		{name: "single string", input: `"card_detail"`, want: StringList{"card_detail"}},
		{name: "array", input: `["a","b"]`, want: StringList{"a", "b"}},
		{name: "empty string", input: `""`, want: nil},
		{name: "empty array", input: `[]`, want: StringList{}},
		{name: "number", input: `42`, fails: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got StringList
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventStreamDeliversBroadcasts(t *testing.T) {
	h := newHarness(t)

	ts := httptest.NewServer(h.server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool {
		return h.server.EventHub().ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.server.EventHub().Publish(StreamEvent{Type: "scene_created", At: time.Now()})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev StreamEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "scene_created", ev.Type)
}
