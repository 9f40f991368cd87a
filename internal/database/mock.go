package database

import (
	"context"

	"github.com/npezzotti/teetime-chat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) GetUserById(ctx context.Context, userId string) (User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetChatRoom(ctx context.Context, roomId string) (ChatRoom, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(ChatRoom), args.Error(1)
}
func (m *MockChatRepository) EnsureChatRoom(ctx context.Context, roundId string) (ChatRoom, error) {
	args := m.Called(ctx, roundId)
	return args.Get(0).(ChatRoom), args.Error(1)
}
func (m *MockChatRepository) CheckRoundAccess(ctx context.Context, userId, roundId string) (bool, error) {
	args := m.Called(ctx, userId, roundId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) CheckRoomAccess(ctx context.Context, userId, roomId string) (bool, error) {
	args := m.Called(ctx, userId, roomId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) GetRoomParticipants(ctx context.Context, roomId string) ([]User, error) {
	args := m.Called(ctx, roomId)
	if users, ok := args.Get(0).([]User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	if fn, ok := args.Get(0).(func(context.Context, CreateMessageParams) Message); ok {
		return fn(ctx, params), args.Error(1)
	}
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) MarkMessageRead(ctx context.Context, roomId, messageId string) error {
	args := m.Called(ctx, roomId, messageId)
	return args.Error(0)
}
func (m *MockChatRepository) GetMessages(ctx context.Context, roomId string, before MessageCursor, limit int) ([]Message, error) {
	args := m.Called(ctx, roomId, before, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) NotifyOffline(ctx context.Context, n types.OfflineNotification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}
