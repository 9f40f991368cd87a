package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/teetime-chat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10

	// a \uXXXX\uXXXX surrogate pair is 12 bytes for one character, so a
	// frame carrying the longest valid content escaped that way still fits
	maxEscapedRuneSize = 12
	envelopeOverhead   = 1024
	maxMessageSize     = maxEscapedRuneSize*MaxContentLength + envelopeOverhead
)

// Client is one live websocket connection. A user may hold several.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *types.ServerEvent
	rooms      map[string]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
	cleanOnce  sync.Once
	// lastStamp is only touched by the read pump
	lastStamp time.Time
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *types.ServerEvent, 256),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		cmd, err := types.DecodeCommand(raw)
		if err != nil {
			c.log.Printf("connection %s: %v", c.id, err)
			c.sendError(ErrInvalidEvent)
			continue
		}

		req := &clientRequest{client: c, cmd: cmd, received: c.stamp()}
		if send, ok := cmd.(types.SendMessage); ok {
			ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
			content, err := c.chatServer.admit(ctx, c.user.Id, send.Content)
			cancel()
			if err != nil {
				c.sendError(err)
				continue
			}

			send.Content = content
			req.cmd = send
		}

		c.chatServer.route(req)
	}
}

// stamp returns the receive time of the next frame, strictly after the
// previous one so messages from one connection keep their order in history.
func (c *Client) stamp() time.Time {
	ts := Now()
	if !ts.After(c.lastStamp) {
		ts = c.lastStamp.Add(time.Millisecond)
	}
	c.lastStamp = ts

	return ts
}

func (c *Client) queueMessage(msg *types.ServerEvent) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send buffer full for connection %s, dropping %s", c.id, msg.Event)
		return false
	}

	return true
}

func (c *Client) sendError(err error) {
	c.queueMessage(types.ErrorEvent(err.Error()))
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.cleanOnce.Do(func() {
		c.chatServer.deregister(c)
		c.stopClient()
	})
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.id] = r
}

func (c *Client) joinedRooms() []*Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}

	return rooms
}
