package types

import (
	"time"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

type User struct {
	Id    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// ChatRoom is the chat channel attached to exactly one round.
type ChatRoom struct {
	Id         string    `json:"id"`
	RoundId    string    `json:"roundId"`
	RoundTitle string    `json:"roundTitle"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
}

type ChatMessage struct {
	Id          string      `json:"id"`
	Content     string      `json:"content"`
	SenderId    string      `json:"senderId"`
	SenderName  string      `json:"senderName"`
	SenderImage string      `json:"senderImage,omitempty"`
	RoomId      string      `json:"roomId"`
	MessageType MessageType `json:"messageType"`
	CreatedAt   time.Time   `json:"createdAt"`
	IsRead      bool        `json:"isRead"`
}

// OfflineNotification is recorded for a participant who was not connected
// when a message was posted to one of their rooms.
type OfflineNotification struct {
	RecipientId    string
	SenderId       string
	SenderName     string
	RoundId        string
	RoundTitle     string
	ContentPreview string
	RoomId         string
	MessageId      string
}
