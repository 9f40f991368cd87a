package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/teetime-chat/internal/config"
	"github.com/npezzotti/teetime-chat/internal/database"
	"github.com/npezzotti/teetime-chat/internal/server"
	"github.com/npezzotti/teetime-chat/internal/stats"
	"github.com/npezzotti/teetime-chat/internal/testutil"
	"github.com/npezzotti/teetime-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, db database.ChatRepository, cs *server.ChatServer) *ChatApp {
	return NewChatApp(http.NewServeMux(), testutil.TestLogger(t), cs, db, &config.Config{
		ServerAddr:     "localhost:8000",
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
	})
}

// do sends an authenticated request as userId through the full handler chain.
func do(t *testing.T, app *ChatApp, userId, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if userId != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSigningKey, userId, time.Hour))
	}

	rr := httptest.NewRecorder()
	app.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeApiError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	var apiErr ApiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr))
	return apiErr
}

func TestNewChatApp(t *testing.T) {
	logger := testutil.TestLogger(t)
	cs := &server.ChatServer{}
	db := &database.MockChatRepository{}
	cfg := &config.Config{
		ServerAddr:     "localhost:8080",
		SigningKey:     []byte("secret"),
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	app := NewChatApp(http.NewServeMux(), logger, cs, db, cfg)

	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, logger, app.log, "expected logger to be set")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, cs, app.cs, "expected chat server to be set")
	assert.Equal(t, cfg.SigningKey, app.signingKey, "expected signing key to be set")
	assert.Equal(t, cfg.AllowedOrigins, app.allowedOrigins)
	assert.Equal(t, cfg.ServerAddr, app.srv.Addr, "expected server address to match config")
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
		code    int
	}{
		{name: "successful health check", code: http.StatusOK},
		{name: "failed health check", mockErr: errors.New("db error"), code: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			defer db.AssertExpectations(t)
			db.On("Ping").Return(tc.mockErr).Once()

			rr := do(t, newTestApp(t, db, nil), "", "/healthz")
			assert.Equal(t, tc.code, rr.Code)
			if tc.mockErr == nil {
				assert.Equal(t, "OK", rr.Body.String())
			}
		})
	}
}

var testRoom = database.ChatRoom{
	Id:         "abc123",
	RoundId:    "round1",
	RoundTitle: "Saturday at Pebble",
	IsActive:   true,
	CreatedAt:  time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC),
}

func Test_getRoundChat(t *testing.T) {
	t.Run("participant gets the room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("CheckRoundAccess", mock.Anything, "u1", "round1").Return(true, nil).Once()
		db.On("EnsureChatRoom", mock.Anything, "round1").Return(testRoom, nil).Once()

		rr := do(t, newTestApp(t, db, nil), "u1", "/api/rounds/round1/chat")
		require.Equal(t, http.StatusOK, rr.Code)

		var room types.ChatRoom
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&room))
		assert.Equal(t, types.ChatRoom{
			Id:         "abc123",
			RoundId:    "round1",
			RoundTitle: "Saturday at Pebble",
			IsActive:   true,
			CreatedAt:  testRoom.CreatedAt,
		}, room)
	})

	t.Run("non participant never creates the room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("CheckRoundAccess", mock.Anything, "u9", "round1").Return(false, nil).Once()

		rr := do(t, newTestApp(t, db, nil), "u9", "/api/rounds/round1/chat")
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "forbidden", decodeApiError(t, rr).Message)
		db.AssertNotCalled(t, "EnsureChatRoom", mock.Anything, mock.Anything)
	})

	t.Run("unknown round", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("CheckRoundAccess", mock.Anything, "u1", "nope").Return(false, sql.ErrNoRows).Once()

		rr := do(t, newTestApp(t, db, nil), "u1", "/api/rounds/nope/chat")
		assert.Equal(t, http.StatusNotFound, rr.Code)
		db.AssertNotCalled(t, "EnsureChatRoom", mock.Anything, mock.Anything)
	})

	t.Run("repository failure", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("CheckRoundAccess", mock.Anything, "u1", "round1").Return(true, nil).Once()
		db.On("EnsureChatRoom", mock.Anything, "round1").Return(database.ChatRoom{}, errors.New("db down")).Once()

		rr := do(t, newTestApp(t, db, nil), "u1", "/api/rounds/round1/chat")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		rr := do(t, newTestApp(t, db, nil), "", "/api/rounds/round1/chat")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func Test_getMessages(t *testing.T) {
	t1 := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	newestFirst := []database.Message{
		{Id: "m3", RoomId: "abc123", SenderId: "u2", SenderName: "Bob", Content: "see you there", MessageType: "text", CreatedAt: t1.Add(2 * time.Minute)},
		{Id: "m2", RoomId: "abc123", SenderId: "u1", SenderName: "Ann", Content: "Tee time moved to 9am", MessageType: "text", CreatedAt: t1.Add(time.Minute)},
		{Id: "m1", RoomId: "abc123", SenderId: "u1", SenderName: "Ann", Content: "morning", MessageType: "text", CreatedAt: t1, IsRead: true},
	}

	t.Run("returns history oldest first", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatRoom", mock.Anything, "abc123").Return(testRoom, nil).Once()
		db.On("CheckRoomAccess", mock.Anything, "u1", "abc123").Return(true, nil).Once()
		db.On("GetMessages", mock.Anything, "abc123", database.MessageCursor{}, 0).Return(newestFirst, nil).Once()

		rr := do(t, newTestApp(t, db, nil), "u1", "/api/messages?room_id=abc123")
		require.Equal(t, http.StatusOK, rr.Code)

		var history []types.ChatMessage
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&history))
		require.Len(t, history, 3)
		assert.Equal(t, "m1", history[0].Id)
		assert.True(t, history[0].IsRead)
		assert.Equal(t, "m2", history[1].Id)
		assert.Equal(t, "Tee time moved to 9am", history[1].Content)
		assert.Equal(t, "m3", history[2].Id)
		assert.Equal(t, types.MessageTypeText, history[2].MessageType)
	})

	t.Run("paging parameters", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatRoom", mock.Anything, "abc123").Return(testRoom, nil).Once()
		db.On("CheckRoomAccess", mock.Anything, "u1", "abc123").Return(true, nil).Once()
		db.On("GetMessages", mock.Anything, "abc123", database.MessageCursor{CreatedAt: t1}, 20).Return([]database.Message{}, nil).Once()

		rr := do(t, newTestApp(t, db, nil), "u1", "/api/messages?room_id=abc123&limit=20&before="+t1.Format(time.RFC3339Nano))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, "[]", rr.Body.String())
	})

	t.Run("cursor with id", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatRoom", mock.Anything, "abc123").Return(testRoom, nil).Once()
		db.On("CheckRoomAccess", mock.Anything, "u1", "abc123").Return(true, nil).Once()
		db.On("GetMessages", mock.Anything, "abc123", database.MessageCursor{CreatedAt: t1, Id: "m1"}, 0).Return(newestFirst[2:], nil).Once()

		q := url.Values{"room_id": {"abc123"}, "before": {t1.Format(time.RFC3339Nano)}, "before_id": {"m1"}}
		rr := do(t, newTestApp(t, db, nil), "u1", "/api/messages?"+q.Encode())
		require.Equal(t, http.StatusOK, rr.Code)
	})

	tcases := []struct {
		name   string
		target string
	}{
		{name: "missing room", target: "/api/messages"},
		{name: "bad before", target: "/api/messages?room_id=abc123&before=yesterday"},
		{name: "bad limit", target: "/api/messages?room_id=abc123&limit=ten"},
		{name: "limit too large", target: "/api/messages?room_id=abc123&limit=1000"},
		{name: "zero limit", target: "/api/messages?room_id=abc123&limit=0"},
		{name: "id without time", target: "/api/messages?room_id=abc123&before_id=m1"},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			defer db.AssertExpectations(t)

			rr := do(t, newTestApp(t, db, nil), "u1", tc.target)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}

	t.Run("unknown room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetChatRoom", mock.Anything, "nope").Return(database.ChatRoom{}, sql.ErrNoRows).Once()

		rr := do(t, newTestApp(t, db, nil), "u1", "/api/messages?room_id=nope")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("non participant", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetChatRoom", mock.Anything, "abc123").Return(testRoom, nil).Once()
		db.On("CheckRoomAccess", mock.Anything, "u9", "abc123").Return(false, nil).Once()

		rr := do(t, newTestApp(t, db, nil), "u9", "/api/messages?room_id=abc123")
		assert.Equal(t, http.StatusForbidden, rr.Code)
		db.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("repository failure", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetChatRoom", mock.Anything, "abc123").Return(testRoom, nil).Once()
		db.On("CheckRoomAccess", mock.Anything, "u1", "abc123").Return(true, nil).Once()
		db.On("GetMessages", mock.Anything, "abc123", database.MessageCursor{}, 0).Return(nil, errors.New("db down")).Once()

		rr := do(t, newTestApp(t, db, nil), "u1", "/api/messages?room_id=abc123")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func Test_serveWs(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("GetUserById", mock.Anything, "u1").Return(database.User{Id: "u1", Name: "Ann"}, nil)
	db.On("GetUserById", mock.Anything, "ghost").Return(database.User{}, sql.ErrNoRows)
	db.On("GetUserById", mock.Anything, "nameless").Return(database.User{Id: "nameless"}, nil)
	db.On("GetChatRoom", mock.Anything, "abc123").Return(database.ChatRoom{}, sql.ErrNoRows)

	cs, err := server.NewChatServer(testutil.TestLogger(t), db, (&stats.MockStatsUpdater{}).Ignore(), server.Config{})
	require.NoError(t, err)
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	srv := httptest.NewServer(newTestApp(t, db, cs).srv.Handler)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	dial := func(userId string, origin string) (*websocket.Conn, *http.Response, error) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+signToken(t, testSigningKey, userId, time.Hour))
		if origin != "" {
			header.Set("Origin", origin)
		}
		return websocket.DefaultDialer.Dial(wsURL, header)
	}

	t.Run("connects and speaks the protocol", func(t *testing.T) {
		conn, _, err := dial("u1", "http://localhost:3000")
		require.NoError(t, err)
		defer conn.Close()

		raw, err := types.EncodeCommand(types.JoinRoom{RoomId: "abc123"})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)

		event, data, err := types.DecodeServerEvent(frame)
		require.NoError(t, err)
		assert.Equal(t, types.EventError, event)
		assert.Equal(t, server.ErrAccessDenied.Error(), data)
	})

	t.Run("token in query", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+signToken(t, testSigningKey, "u1", time.Hour), nil)
		require.NoError(t, err)
		conn.Close()
	})

	t.Run("unknown user", func(t *testing.T) {
		_, resp, err := dial("ghost", "")
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("incomplete identity", func(t *testing.T) {
		_, resp, err := dial("nameless", "")
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("disallowed origin", func(t *testing.T) {
		_, resp, err := dial("u1", "https://evil.example")
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("no token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
