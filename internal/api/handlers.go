package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/teetime-chat/internal/database"
	"github.com/npezzotti/teetime-chat/internal/server"
	"github.com/npezzotti/teetime-chat/internal/types"
)

const (
	maxHistoryLimit = 100
	requestTimeout  = 5 * time.Second
)

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatApp) writeError(w http.ResponseWriter, e *ApiError) {
	if e.Err != nil {
		s.log.Printf("%d: %v", e.StatusCode, e.Err)
	}
	s.writeJson(w, e.StatusCode, e)
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.writeError(w, NewInternalServerError(fmt.Errorf("health check: %w", err)))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// requireAccess writes a 403 and returns false unless the user participates in
// the room's round.
func (s *ChatApp) requireAccess(ctx context.Context, w http.ResponseWriter, userId, roomId string) bool {
	ok, err := s.db.CheckRoomAccess(ctx, userId, roomId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return false
	}
	if !ok {
		s.writeError(w, NewForbiddenError())
		return false
	}

	return true
}

func (s *ChatApp) getRoundChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roundId := r.PathValue("roundId")
	if roundId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	// only participants may cause the room to be created
	ok, err := s.db.CheckRoundAccess(ctx, userId, roundId)
	if err != nil {
		s.writeError(w, repositoryError(err))
		return
	}
	if !ok {
		s.writeError(w, NewForbiddenError())
		return
	}

	room, err := s.db.EnsureChatRoom(ctx, roundId)
	if err != nil {
		s.writeError(w, repositoryError(err))
		return
	}

	s.writeJson(w, http.StatusOK, types.ChatRoom{
		Id:         room.Id,
		RoundId:    room.RoundId,
		RoundTitle: room.RoundTitle,
		IsActive:   room.IsActive,
		CreatedAt:  room.CreatedAt,
	})
}

// getMessages serves a page of room history. Pages are fetched newest first
// before the (before, before_id) cursor and returned in chronological order.
func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId := r.URL.Query().Get("room_id")
	if roomId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	var (
		before database.MessageCursor
		limit  int
		err    error
	)

	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		before.CreatedAt, err = time.Parse(time.RFC3339Nano, beforeStr)
		if err != nil {
			s.writeError(w, NewBadRequestError())
			return
		}
		before.Id = r.URL.Query().Get("before_id")
	} else if r.URL.Query().Get("before_id") != "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > maxHistoryLimit {
			s.writeError(w, NewBadRequestError())
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room, err := s.db.GetChatRoom(ctx, roomId)
	if err != nil {
		s.writeError(w, repositoryError(err))
		return
	}

	if !s.requireAccess(ctx, w, userId, room.Id) {
		return
	}

	messages, err := s.db.GetMessages(ctx, room.Id, before, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	history := make([]types.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		history = append(history, chatMessage(msg))
	}
	slices.Reverse(history)

	s.writeJson(w, http.StatusOK, history)
}

func chatMessage(msg database.Message) types.ChatMessage {
	return types.ChatMessage{
		Id:          msg.Id,
		Content:     msg.Content,
		SenderId:    msg.SenderId,
		SenderName:  msg.SenderName,
		SenderImage: msg.SenderImage,
		RoomId:      msg.RoomId,
		MessageType: types.MessageType(msg.MessageType),
		CreatedAt:   msg.CreatedAt,
		IsRead:      msg.IsRead,
	}
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	dbUser, err := s.db.GetUserById(ctx, id)
	cancel()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewUnauthorizedError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	user, err := server.Authenticate(&server.Handshake{
		UserId: dbUser.Id,
		Name:   dbUser.Name,
		Image:  dbUser.Image,
	})
	if err != nil {
		s.log.Printf("rejecting connection for %q: %v", id, err)
		s.writeError(w, NewUnauthorizedError())
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user, conn, s.cs, s.log)
	if err := s.cs.RegisterClient(client); err != nil {
		s.log.Println("register client:", err)
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
