package api

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/auth"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/handlers"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/attachments"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/directory"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/messagelog"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/presence"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/retry"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/session"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/store"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/typing"
)

type testServer struct {
	ln     *fasthttputil.InmemoryListener
	client *fasthttp.Client
	svc    *session.Service
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	return startServerWith(t, nil)
}

func startServerWith(t *testing.T, limiter *auth.LimiterPool) *testServer {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	policy := retry.Policy{InitialInterval: 10 * time.Millisecond, MaxElapsed: time.Second}
	dir := directory.New(st, 64, policy)
	log := messagelog.New(st, messagelog.Options{Retry: policy})
	log.SetNotifier(dir)
	svc := &session.Service{
		Log:       log,
		Directory: dir,
		Presence:  presence.New(st, 64),
		Typing:    typing.New(time.Minute),
		Retry:     policy,
	}
	blobs, err := attachments.NewDiskStore(t.TempDir(), "/files", 0)
	require.NoError(t, err)

	base, cancel := context.WithCancel(context.Background())
	h := handlers.New(svc, blobs, nil)
	h.Base = base
	h.Ready = st.Ready
	h.Limiter = limiter

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: Handler(h, auth.Config{AllowUnsigned: true, Limiter: limiter})}
	go func() { _ = srv.Serve(ln) }()

	t.Cleanup(func() {
		cancel()
		_ = srv.Shutdown()
		log.Close()
		dir.Close()
		svc.Presence.Close()
		svc.Typing.Close()
		_ = st.Close()
	})
	return &testServer{
		ln:  ln,
		svc: svc,
		client: &fasthttp.Client{Dial: func(string) (net.Conn, error) {
			return ln.Dial()
		}},
	}
}

func (s *testServer) do(t *testing.T, method, path, user, body string) (int, []byte) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.Header.SetMethod(method)
	req.SetRequestURI("http://chat.test" + path)
	if user != "" {
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-User-Name", strings.ToLower(user)+"-name")
	}
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	require.NoError(t, s.client.Do(req, resp))
	return resp.StatusCode(), append([]byte(nil), resp.Body()...)
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	d := websocket.Dialer{
		NetDial:          func(string, string) (net.Conn, error) { return s.ln.Dial() },
		HandshakeTimeout: 3 * time.Second,
	}
	conn, _, err := d.Dial("ws://chat.test"+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type frame struct {
	Type          string           `json:"type"`
	Ref           string           `json:"ref"`
	View          *session.View    `json:"view"`
	Conversations []models.Summary `json:"conversations"`
	Message       *models.Message  `json:"message"`
	Marked        *int             `json:"marked"`
	Error         string           `json:"error"`
	Status        int              `json:"status"`
}

func readUntil(t *testing.T, conn *websocket.Conn, cond func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		if cond(f) {
			return f
		}
	}
}

func createConversation(t *testing.T, s *testServer) {
	t.Helper()
	code, body := s.do(t, "POST", "/v1/conversations", "S",
		`{"id":"C","title":"Thesis","participants":{"S":{"name":"Sam"},"T":{"name":"Tess"}}}`)
	require.Equal(t, fasthttp.StatusOK, code, string(body))
}

func TestRESTRoundTrip(t *testing.T) {
	s := startServer(t)
	createConversation(t, s)

	code, _ := s.do(t, "POST", "/v1/conversations/C/messages", "S", `{"text":"draft attached"}`)
	require.Equal(t, fasthttp.StatusCreated, code)

	code, body := s.do(t, "GET", "/v1/conversations", "T", "")
	require.Equal(t, fasthttp.StatusOK, code)
	var list struct {
		Conversations []models.Summary `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, 1, list.Conversations[0].UnreadCount)

	code, _ = s.do(t, "GET", "/v1/conversations", "", "")
	assert.Equal(t, fasthttp.StatusUnauthorized, code)

	code, _ = s.do(t, "PATCH", "/v1/conversations", "S", "")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, code)

	code, _ = s.do(t, "GET", "/nowhere", "S", "")
	assert.Equal(t, fasthttp.StatusNotFound, code)
}

func TestOperationalEndpoints(t *testing.T) {
	s := startServer(t)

	code, _ := s.do(t, "GET", "/healthz", "", "")
	assert.Equal(t, fasthttp.StatusOK, code)
	code, _ = s.do(t, "GET", "/readyz", "", "")
	assert.Equal(t, fasthttp.StatusOK, code)

	code, body := s.do(t, "GET", "/metrics", "", "")
	assert.Equal(t, fasthttp.StatusOK, code)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestConversationStream(t *testing.T) {
	s := startServer(t)
	createConversation(t, s)

	student := s.dial(t, "/v1/conversations/C/stream?user_id=S&name=Sam")
	teacher := s.dial(t, "/v1/conversations/C/stream?user_id=T&name=Tess")

	// each side sees the other come online
	readUntil(t, student, func(f frame) bool {
		return f.Type == "view" && f.View.Presence.UserID == "T" && f.View.Presence.Online
	})

	require.NoError(t, student.WriteJSON(map[string]string{"type": "send", "ref": "r1", "text": "hello"}))
	ack := readUntil(t, student, func(f frame) bool { return f.Type == "ack" && f.Ref == "r1" })
	require.NotNil(t, ack.Message)
	assert.Equal(t, "hello", ack.Message.Text)
	assert.Equal(t, uint64(1), ack.Message.Position)

	v := readUntil(t, teacher, func(f frame) bool { return f.Type == "view" && len(f.View.Messages) == 1 })
	assert.Equal(t, "Sam", v.View.Messages[0].SenderName)

	require.NoError(t, teacher.WriteJSON(map[string]string{"type": "read", "ref": "r2"}))
	ack = readUntil(t, teacher, func(f frame) bool { return f.Type == "ack" && f.Ref == "r2" })
	require.NotNil(t, ack.Marked)
	assert.Equal(t, 1, *ack.Marked)

	readUntil(t, student, func(f frame) bool {
		return f.Type == "view" && len(f.View.Messages) == 1 && f.View.Messages[0].Read
	})

	require.NoError(t, student.WriteJSON(map[string]string{"type": "send", "ref": "r3", "text": ""}))
	errFrame := readUntil(t, student, func(f frame) bool { return f.Type == "error" && f.Ref == "r3" })
	assert.Equal(t, fasthttp.StatusBadRequest, errFrame.Status)

	require.NoError(t, student.WriteJSON(map[string]string{"type": "dance", "ref": "r4"}))
	errFrame = readUntil(t, student, func(f frame) bool { return f.Type == "error" && f.Ref == "r4" })
	assert.Equal(t, "unknown frame type", errFrame.Error)

	// closing the teacher socket takes them offline
	require.NoError(t, teacher.Close())
	readUntil(t, student, func(f frame) bool {
		return f.Type == "view" && f.View.Presence.UserID == "T" && !f.View.Presence.Online
	})
}

func TestConversationStreamIsRateLimited(t *testing.T) {
	limiter := auth.NewLimiterPool(0.001, 2, time.Minute)
	defer limiter.Stop()
	s := startServerWith(t, limiter)
	createConversation(t, s) // S spends one token here

	student := s.dial(t, "/v1/conversations/C/stream?user_id=S&name=Sam")
	require.NoError(t, student.WriteJSON(map[string]string{"type": "send", "ref": "r1", "text": "one"}))
	readUntil(t, student, func(f frame) bool { return f.Type == "ack" && f.Ref == "r1" })

	for _, ref := range []string{"r2", "r3"} {
		require.NoError(t, student.WriteJSON(map[string]string{"type": "send", "ref": ref, "text": "more"}))
		f := readUntil(t, student, func(f frame) bool { return f.Ref == ref })
		assert.Equal(t, "error", f.Type)
		assert.Equal(t, fasthttp.StatusTooManyRequests, f.Status)
	}
	require.NoError(t, student.WriteJSON(map[string]string{"type": "typing", "ref": "r4"}))
	f := readUntil(t, student, func(f frame) bool { return f.Ref == "r4" })
	assert.Equal(t, fasthttp.StatusTooManyRequests, f.Status)

	msgs, err := s.svc.Log.List("C")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	// other users keep their own budget
	code, _ := s.do(t, "POST", "/v1/conversations/C/messages", "T", `{"text":"hi"}`)
	assert.Equal(t, fasthttp.StatusCreated, code)
}

func TestConversationStreamRejectsOutsiders(t *testing.T) {
	s := startServer(t)
	createConversation(t, s)

	d := websocket.Dialer{NetDial: func(string, string) (net.Conn, error) { return s.ln.Dial() }}
	_, resp, err := d.Dial("ws://chat.test/v1/conversations/C/stream?user_id=E", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, fasthttp.StatusForbidden, resp.StatusCode)
}

func TestInboxStream(t *testing.T) {
	s := startServer(t)
	createConversation(t, s)

	inbox := s.dial(t, "/v1/inbox/stream?user_id=T")
	first := readUntil(t, inbox, func(f frame) bool { return f.Type == "inbox" })
	require.Len(t, first.Conversations, 1)
	assert.Equal(t, 0, first.Conversations[0].UnreadCount)

	code, _ := s.do(t, "POST", "/v1/conversations/C/messages", "S", `{"text":"ping"}`)
	require.Equal(t, fasthttp.StatusCreated, code)

	readUntil(t, inbox, func(f frame) bool {
		return f.Type == "inbox" && len(f.Conversations) == 1 && f.Conversations[0].UnreadCount == 1
	})
}
