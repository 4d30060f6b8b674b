package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatwire/bus"
	"chatwire/moderation"
	"chatwire/presence"
	"chatwire/repositories"
	"chatwire/search"
	"chatwire/services"
	"chatwire/session"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

const strongPassword = "Str0ng&Secret-Pass"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	req := require.New(t)
	log := slog.Default()

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	req.NoError(err)
	t.Cleanup(func() { _ = writer.Close() })

	users := repositories.NewUserRepository(db)
	conversations := repositories.NewConversationRepository(db, log)
	messages := repositories.NewMessageRepository(db, log)
	index := search.NewUserIndex(writer, log)

	sanitizer, err := moderation.NewSanitizer('*', log)
	req.NoError(err)

	deliveryBus := bus.NewInProcessBus(log, conversations, bus.NewRegistry(), 64, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = deliveryBus.Run(ctx) }()
	tracker := presence.NewTracker(deliveryBus, 2*time.Second, log)
	sessions := session.NewManager(log, conversations, messages, deliveryBus, tracker)

	authService := services.NewAuthService(users, index, time.Hour)
	chatService := services.NewChatService(log, conversations, messages, users,
		sanitizer, deliveryBus, tracker)

	handler := NewHandler(log, authService, chatService, users, index, sessions,
		tracker, 20, nil)
	return handler.SetupRouter()
}

// call performs one JSON request, propagating any session cookies.
func call(t *testing.T, router http.Handler, method, path string, body any,
	cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	request := httptest.NewRequest(method, path, &buf)
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func signup(t *testing.T, router http.Handler, handle string) (string, []*http.Cookie) {
	t.Helper()
	recorder := call(t, router, http.MethodPost, "/api/auth/signup",
		map[string]string{"username": handle, "password": strongPassword}, nil)
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())

	var body userJSON
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body.ID, recorder.Result().Cookies()
}

func Test_Signup_Login_Me_Flow(t *testing.T) {
	req := require.New(t)
	router := newTestRouter(t)

	_, cookies := signup(t, router, "alice")
	req.NotEmpty(cookies)

	recorder := call(t, router, http.MethodGet, "/api/auth/me", nil, cookies)
	req.Equal(http.StatusOK, recorder.Code)
	var me userJSON
	req.NoError(json.Unmarshal(recorder.Body.Bytes(), &me))
	req.Equal("alice", me.Username)

	// Fresh login works and a bad password does not.
	recorder = call(t, router, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "alice", "password": strongPassword}, nil)
	req.Equal(http.StatusOK, recorder.Code)

	recorder = call(t, router, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "alice", "password": "Wr0ng&Password!!"}, nil)
	req.Equal(http.StatusUnauthorized, recorder.Code)

	// Anonymous me is rejected.
	recorder = call(t, router, http.MethodGet, "/api/auth/me", nil, nil)
	req.Equal(http.StatusUnauthorized, recorder.Code)
}

func Test_Signup_Validation_Errors(t *testing.T) {
	req := require.New(t)
	router := newTestRouter(t)

	recorder := call(t, router, http.MethodPost, "/api/auth/signup",
		map[string]string{"username": "al", "password": strongPassword}, nil)
	req.Equal(http.StatusBadRequest, recorder.Code)

	signup(t, router, "alice")
	recorder = call(t, router, http.MethodPost, "/api/auth/signup",
		map[string]string{"username": "alice", "password": strongPassword}, nil)
	req.Equal(http.StatusConflict, recorder.Code)
}

func Test_Conversation_And_Message_Flow(t *testing.T) {
	req := require.New(t)
	router := newTestRouter(t)

	bobID, _ := signup(t, router, "bob")
	_, aliceCookies := signup(t, router, "alice")

	// Alice opens a conversation with bob.
	recorder := call(t, router, http.MethodPost, "/api/conversations",
		map[string]string{"other_user_id": bobID}, aliceCookies)
	req.Equal(http.StatusOK, recorder.Code, recorder.Body.String())
	var conversation conversationJSON
	req.NoError(json.Unmarshal(recorder.Body.Bytes(), &conversation))
	req.Equal("bob", conversation.OtherHandle)

	// Opening again lands on the same conversation.
	recorder = call(t, router, http.MethodPost, "/api/conversations",
		map[string]string{"other_user_id": bobID}, aliceCookies)
	req.Equal(http.StatusOK, recorder.Code)
	var again conversationJSON
	req.NoError(json.Unmarshal(recorder.Body.Bytes(), &again))
	req.Equal(conversation.ID, again.ID)

	messagesPath := fmt.Sprintf("/api/messages/%d", conversation.ID)
	recorder = call(t, router, http.MethodPost, messagesPath,
		map[string]string{"content": "hello bob"}, aliceCookies)
	req.Equal(http.StatusCreated, recorder.Code, recorder.Body.String())
	var posted messageJSON
	req.NoError(json.Unmarshal(recorder.Body.Bytes(), &posted))
	req.Equal(uint64(1), posted.ID)
	req.Equal("alice", posted.SenderUsername)

	recorder = call(t, router, http.MethodGet, messagesPath, nil, aliceCookies)
	req.Equal(http.StatusOK, recorder.Code)
	var history []messageJSON
	req.NoError(json.Unmarshal(recorder.Body.Bytes(), &history))
	req.Len(history, 1)
	req.Equal("hello bob", history[0].Content)

	// The conversation list now shows the last message.
	recorder = call(t, router, http.MethodGet, "/api/conversations", nil, aliceCookies)
	req.Equal(http.StatusOK, recorder.Code)
	var list []conversationJSON
	req.NoError(json.Unmarshal(recorder.Body.Bytes(), &list))
	req.Len(list, 1)
	req.Equal("hello bob", list[0].LastMessage)

	// A third account is locked out of the thread.
	_, claraCookies := signup(t, router, "clara")
	recorder = call(t, router, http.MethodGet, messagesPath, nil, claraCookies)
	req.Equal(http.StatusForbidden, recorder.Code)
	recorder = call(t, router, http.MethodPost, messagesPath,
		map[string]string{"content": "let me in"}, claraCookies)
	req.Equal(http.StatusForbidden, recorder.Code)
}

func Test_Message_Edge_Cases(t *testing.T) {
	req := require.New(t)
	router := newTestRouter(t)

	bobID, _ := signup(t, router, "bob")
	_, aliceCookies := signup(t, router, "alice")

	recorder := call(t, router, http.MethodPost, "/api/conversations",
		map[string]string{"other_user_id": bobID}, aliceCookies)
	var conversation conversationJSON
	req.NoError(json.Unmarshal(recorder.Body.Bytes(), &conversation))
	messagesPath := fmt.Sprintf("/api/messages/%d", conversation.ID)

	// Whitespace-only content is rejected.
	recorder = call(t, router, http.MethodPost, messagesPath,
		map[string]string{"content": "   "}, aliceCookies)
	req.Equal(http.StatusBadRequest, recorder.Code)

	// Anonymous access is rejected before any lookup.
	recorder = call(t, router, http.MethodGet, messagesPath, nil, nil)
	req.Equal(http.StatusUnauthorized, recorder.Code)

	// Opening a conversation with an unknown peer is a 404.
	recorder = call(t, router, http.MethodPost, "/api/conversations",
		map[string]string{"other_user_id": "no-such-user"}, aliceCookies)
	req.Equal(http.StatusNotFound, recorder.Code)
}

func Test_Search_Excludes_The_Caller(t *testing.T) {
	req := require.New(t)
	router := newTestRouter(t)

	_, alinaCookies := signup(t, router, "alina")
	_, aliceCookies := signup(t, router, "alice")

	recorder := call(t, router, http.MethodPost, "/api/users/avatar",
		map[string]string{"avatar": "https://cdn.example/alina.png"}, alinaCookies)
	req.Equal(http.StatusOK, recorder.Code)

	recorder = call(t, router, http.MethodGet, "/api/users/search?query=ali", nil, aliceCookies)
	req.Equal(http.StatusOK, recorder.Code)

	var hits []userJSON
	req.NoError(json.Unmarshal(recorder.Body.Bytes(), &hits))
	req.Len(hits, 1)
	req.Equal("alina", hits[0].Username)
	req.Equal("https://cdn.example/alina.png", hits[0].Avatar)
}
