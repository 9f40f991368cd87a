package database

import "time"

type User struct {
	Id    string
	Name  string
	Email string
	Image string
}

type ChatRoom struct {
	Id         string
	RoundId    string
	RoundTitle string
	IsActive   bool
	CreatedAt  time.Time
}

type Message struct {
	Id          string
	RoomId      string
	SenderId    string
	SenderName  string
	SenderImage string
	Content     string
	MessageType string
	IsRead      bool
	CreatedAt   time.Time
}

// MessageCursor is the position of the oldest message a client holds. History
// pages contain messages strictly before it in (CreatedAt, Id) order. A zero
// cursor starts from the newest message.
type MessageCursor struct {
	CreatedAt time.Time
	Id        string
}

func (c MessageCursor) IsZero() bool {
	return c.CreatedAt.IsZero()
}

type CreateMessageParams struct {
	RoomId      string
	SenderId    string
	Content     string
	MessageType string
	CreatedAt   time.Time
}

// notificationData is stored as JSON alongside each offline notification so the
// notification list can deep link into the round chat.
type notificationData struct {
	RoundId   string `json:"roundId"`
	RoomId    string `json:"roomId"`
	MessageId string `json:"messageId"`
	SenderId  string `json:"senderId"`
}
