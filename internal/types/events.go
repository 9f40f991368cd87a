package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client to server event names.
const (
	EventRoomJoin    = "room:join"
	EventRoomLeave   = "room:leave"
	EventMessageSend = "message:send"
	EventMessageRead = "message:read"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
)

// Server to client event names. message:read is shared by both directions.
const (
	EventMessageNew     = "message:new"
	EventUserTyping     = "user:typing"
	EventUserStopTyping = "user:stop-typing"
	EventRoomJoined     = "room:joined"
	EventRoomLeft       = "room:left"
	EventError          = "error"
)

var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the frame exchanged over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ClientCommand is one of the typed client events below.
type ClientCommand interface {
	EventName() string
}

type JoinRoom struct {
	RoomId string `json:"roomId"`
}

type LeaveRoom struct {
	RoomId string `json:"roomId"`
}

type SendMessage struct {
	RoomId  string `json:"roomId"`
	Content string `json:"content"`
}

type MarkRead struct {
	RoomId    string `json:"roomId"`
	MessageId string `json:"messageId"`
}

type Typing struct {
	RoomId  string `json:"roomId"`
	Started bool   `json:"-"`
}

func (JoinRoom) EventName() string    { return EventRoomJoin }
func (LeaveRoom) EventName() string   { return EventRoomLeave }
func (SendMessage) EventName() string { return EventMessageSend }
func (MarkRead) EventName() string    { return EventMessageRead }

func (t Typing) EventName() string {
	if t.Started {
		return EventTypingStart
	}
	return EventTypingStop
}

// EncodeCommand wraps a client command in an envelope.
func EncodeCommand(cmd ClientCommand) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", cmd.EventName(), err)
	}

	return json.Marshal(Envelope{Event: cmd.EventName(), Data: data})
}

// DecodeCommand parses a raw client frame into its typed command.
func DecodeCommand(raw []byte) (ClientCommand, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var (
		cmd ClientCommand
		err error
	)
	switch env.Event {
	case EventRoomJoin:
		var c JoinRoom
		err = unmarshalData(env.Data, &c)
		cmd = c
	case EventRoomLeave:
		var c LeaveRoom
		err = unmarshalData(env.Data, &c)
		cmd = c
	case EventMessageSend:
		var c SendMessage
		err = unmarshalData(env.Data, &c)
		cmd = c
	case EventMessageRead:
		var c MarkRead
		err = unmarshalData(env.Data, &c)
		if err == nil && c.MessageId == "" {
			err = errors.New("missing message id")
		}
		cmd = c
	case EventTypingStart, EventTypingStop:
		c := Typing{Started: env.Event == EventTypingStart}
		err = unmarshalData(env.Data, &c)
		cmd = c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}

	return cmd, nil
}

type roomScoped interface {
	roomId() string
}

func (c JoinRoom) roomId() string    { return c.RoomId }
func (c LeaveRoom) roomId() string   { return c.RoomId }
func (c SendMessage) roomId() string { return c.RoomId }
func (c MarkRead) roomId() string    { return c.RoomId }
func (c Typing) roomId() string      { return c.RoomId }

// RoomId returns the room a command targets.
func RoomId(cmd ClientCommand) string {
	if rs, ok := cmd.(roomScoped); ok {
		return rs.roomId()
	}
	return ""
}

func unmarshalData(data json.RawMessage, v roomScoped) error {
	if len(data) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	if v.roomId() == "" {
		return errors.New("missing room id")
	}
	return nil
}

// ServerEvent is an outbound frame. Data holds one of the payload types below,
// or a string for EventError.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ReadReceipt struct {
	RoomId    string `json:"roomId"`
	MessageId string `json:"messageId"`
	UserId    string `json:"userId"`
}

type TypingNotice struct {
	RoomId   string `json:"roomId"`
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
}

type MembershipNotice struct {
	RoomId   string `json:"roomId"`
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
}

func NewMessageEvent(msg ChatMessage) *ServerEvent {
	return &ServerEvent{Event: EventMessageNew, Data: msg}
}

func ReadEvent(r ReadReceipt) *ServerEvent {
	return &ServerEvent{Event: EventMessageRead, Data: r}
}

func TypingEvent(started bool, n TypingNotice) *ServerEvent {
	if started {
		return &ServerEvent{Event: EventUserTyping, Data: n}
	}
	return &ServerEvent{Event: EventUserStopTyping, Data: n}
}

func MembershipEvent(joined bool, n MembershipNotice) *ServerEvent {
	if joined {
		return &ServerEvent{Event: EventRoomJoined, Data: n}
	}
	return &ServerEvent{Event: EventRoomLeft, Data: n}
}

func ErrorEvent(reason string) *ServerEvent {
	return &ServerEvent{Event: EventError, Data: reason}
}

// DecodeServerEvent parses a raw server frame. The returned value is a
// ChatMessage, ReadReceipt, TypingNotice, MembershipNotice, or string for
// error events.
func DecodeServerEvent(raw []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var (
		v   any
		err error
	)
	switch env.Event {
	case EventMessageNew:
		var m ChatMessage
		err = json.Unmarshal(env.Data, &m)
		v = m
	case EventMessageRead:
		var r ReadReceipt
		err = json.Unmarshal(env.Data, &r)
		v = r
	case EventUserTyping, EventUserStopTyping:
		var n TypingNotice
		err = json.Unmarshal(env.Data, &n)
		v = n
	case EventRoomJoined, EventRoomLeft:
		var n MembershipNotice
		err = json.Unmarshal(env.Data, &n)
		v = n
	case EventError:
		var s string
		err = json.Unmarshal(env.Data, &s)
		v = s
	default:
		return env.Event, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return env.Event, nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}

	return env.Event, v, nil
}
