// Package client is the client side of the chat protocol: a websocket
// connection with typed senders, a decoded event stream and a history fetch.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/teetime-chat/internal/types"
)

const writeWait = 10 * time.Second

// Event is one decoded server frame. Data is a types.ChatMessage,
// types.ReadReceipt, types.TypingNotice, types.MembershipNotice, or a string
// for error events.
type Event struct {
	Name string
	Data any
}

type Conn struct {
	ws      *websocket.Conn
	log     *log.Logger
	writeMu sync.Mutex
	events  chan Event
	done    chan struct{}
}

// Dial connects to the gateway at wsURL, authenticating with a bearer token.
func Dial(ctx context.Context, wsURL, token string, logger *log.Logger) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", wsURL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &Conn{
		ws:     ws,
		log:    logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

// Events is closed when the connection ends.
func (c *Conn) Events() <-chan Event {
	return c.events
}

func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Printf("read: %v", err)
			}
			return
		}

		name, data, err := types.DecodeServerEvent(raw)
		if err != nil {
			c.log.Printf("skipping frame: %v", err)
			continue
		}

		select {
		case c.events <- Event{Name: name, Data: data}:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) send(cmd types.ClientCommand) error {
	raw, err := types.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write %s: %w", cmd.EventName(), err)
	}

	return nil
}

func (c *Conn) Join(roomId string) error {
	return c.send(types.JoinRoom{RoomId: roomId})
}

func (c *Conn) Leave(roomId string) error {
	return c.send(types.LeaveRoom{RoomId: roomId})
}

func (c *Conn) Send(roomId, content string) error {
	return c.send(types.SendMessage{RoomId: roomId, Content: content})
}

func (c *Conn) MarkRead(roomId, messageId string) error {
	return c.send(types.MarkRead{RoomId: roomId, MessageId: messageId})
}

func (c *Conn) Typing(roomId string, started bool) error {
	return c.send(types.Typing{RoomId: roomId, Started: started})
}

func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}

	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return c.ws.Close()
}

// FetchRoundChat resolves the chat room of a round, creating it on first use.
func FetchRoundChat(ctx context.Context, httpClient *http.Client, baseURL, token, roundId string) (types.ChatRoom, error) {
	var room types.ChatRoom
	err := getJson(ctx, httpClient, baseURL+"/api/rounds/"+url.PathEscape(roundId)+"/chat", token, &room)
	if err != nil {
		return types.ChatRoom{}, fmt.Errorf("fetch round chat: %w", err)
	}

	return room, nil
}

// FetchHistory loads a page of room history over HTTP, oldest first. The page
// holds messages older than before, usually Timeline.Oldest; nil fetches the
// latest page.
func FetchHistory(ctx context.Context, httpClient *http.Client, baseURL, token, roomId string, before *types.ChatMessage, limit int) ([]types.ChatMessage, error) {
	q := url.Values{}
	q.Set("room_id", roomId)
	if before != nil {
		q.Set("before", before.CreatedAt.Format(time.RFC3339Nano))
		q.Set("before_id", before.Id)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var messages []types.ChatMessage
	if err := getJson(ctx, httpClient, baseURL+"/api/messages?"+q.Encode(), token, &messages); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	return messages, nil
}

func getJson(ctx context.Context, httpClient *http.Client, target, token string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
