package database

import (
	"context"

	"github.com/npezzotti/teetime-chat/internal/types"
)

// ChatRepository is the relational store the chat core reads from and appends to.
type ChatRepository interface {
	Ping() error
	GetUserById(ctx context.Context, userId string) (User, error)
	GetChatRoom(ctx context.Context, roomId string) (ChatRoom, error)
	CheckRoundAccess(ctx context.Context, userId, roundId string) (bool, error)
	EnsureChatRoom(ctx context.Context, roundId string) (ChatRoom, error)
	CheckRoomAccess(ctx context.Context, userId, roomId string) (bool, error)
	GetRoomParticipants(ctx context.Context, roomId string) ([]User, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	MarkMessageRead(ctx context.Context, roomId, messageId string) error
	GetMessages(ctx context.Context, roomId string, before MessageCursor, limit int) ([]Message, error)
	NotifyOffline(ctx context.Context, n types.OfflineNotification) error
}
