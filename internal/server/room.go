package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/teetime-chat/internal/database"
	"github.com/npezzotti/teetime-chat/internal/stats"
	"github.com/npezzotti/teetime-chat/internal/types"
)

const idleRoomTimeout = time.Second * 5

type exitReq struct {
	// force exits even with connected clients, used on shutdown
	force bool
	done  chan bool
}

// Room serializes every event for one chat room on its own goroutine, so
// events from a single connection are handled in the order they were read.
type Room struct {
	id         string
	roundId    string
	roundTitle string
	cs         *ChatServer
	reqChan    chan *clientRequest
	clients    map[*Client]struct{}
	userMap    map[string]map[*Client]struct{}
	clientLock sync.RWMutex
	log        *log.Logger
	// killTimer unloads the room once it has been empty for idleRoomTimeout
	killTimer *time.Timer
	exit      chan exitReq
}

func newRoom(cs *ChatServer, dbRoom database.ChatRoom) *Room {
	r := &Room{
		id:         dbRoom.Id,
		roundId:    dbRoom.RoundId,
		roundTitle: dbRoom.RoundTitle,
		cs:         cs,
		reqChan:    make(chan *clientRequest, 256),
		clients:    make(map[*Client]struct{}),
		userMap:    make(map[string]map[*Client]struct{}),
		log:        cs.log,
		killTimer:  time.NewTimer(idleRoomTimeout),
		exit:       make(chan exitReq),
	}
	r.killTimer.Stop()

	return r
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer.Reset(idleRoomTimeout)

	for {
		select {
		case req := <-r.reqChan:
			r.handle(req)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			if !e.force && (r.numClients() > 0 || len(r.reqChan) > 0) {
				e.done <- false
				continue
			}

			r.handleRoomExit()
			e.done <- true
			return
		}
	}
}

func (r *Room) enqueue(req *clientRequest) bool {
	select {
	case r.reqChan <- req:
		return true
	default:
		r.log.Printf("request channel full for room %q", r.id)
		return false
	}
}

func (r *Room) handle(req *clientRequest) {
	switch cmd := req.cmd.(type) {
	case types.JoinRoom:
		r.handleJoin(req.client)
	case types.LeaveRoom:
		r.handleLeave(req.client)
	case types.SendMessage:
		r.handlePublish(req, cmd)
	case types.MarkRead:
		r.handleRead(req.client, cmd)
	case types.Typing:
		r.handleTyping(req.client, cmd)
	default:
		r.log.Printf("room %q: unhandled command %T", r.id, cmd)
	}

	if r.numClients() == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	} else {
		r.killTimer.Stop()
	}
}

func (r *Room) handleRoomTimeout() {
	if r.numClients() > 0 {
		return
	}

	r.log.Printf("room %q timed out", r.id)
	select {
	case r.cs.unloadRoomChan <- r.id:
	default:
		r.log.Printf("unload channel full, retrying room %q later", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit() {
	r.log.Printf("room %q is exiting", r.id)

	r.clientLock.Lock()
	defer r.clientLock.Unlock()
	for c := range r.clients {
		c.delRoom(r.id)
	}
	r.clients = make(map[*Client]struct{})
	r.userMap = make(map[string]map[*Client]struct{})
}

func (r *Room) handleJoin(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	ok, err := r.cs.authorize(ctx, c.user.Id, r.id)
	if err != nil {
		r.log.Println("join:", err)
		c.sendError(ErrServiceUnavailable)
		return
	}
	if !ok {
		r.log.Printf("user %q denied access to room %q", c.user.Id, r.id)
		c.sendError(ErrAccessDenied)
		return
	}

	if r.isMember(c) {
		return
	}
	r.addClient(c)

	r.broadcast(types.MembershipEvent(true, types.MembershipNotice{
		RoomId:   r.id,
		UserId:   c.user.Id,
		UserName: c.user.Name,
	}), c)
}

// handleLeave unsubscribes the connection. Leaving a room that was never
// joined is a no-op. It only touches state under clientLock, so the server
// may also call it directly for a disconnect the room queue cannot take.
func (r *Room) handleLeave(c *Client) {
	if !r.removeClient(c) {
		return
	}

	r.broadcast(types.MembershipEvent(false, types.MembershipNotice{
		RoomId:   r.id,
		UserId:   c.user.Id,
		UserName: c.user.Name,
	}), c)
}

// handlePublish runs the room side of a send, after the rate limit and content
// checks: authorize, persist, broadcast, then notify offline participants.
// Nothing is broadcast unless the message was stored.
func (r *Room) handlePublish(req *clientRequest, cmd types.SendMessage) {
	c := req.client
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	ok, err := r.cs.authorize(ctx, c.user.Id, r.id)
	if err != nil {
		r.log.Println("publish:", err)
		c.sendError(ErrSendFailed)
		return
	}
	if !ok {
		r.cs.stats.Incr(stats.MessagesRejected)
		c.sendError(ErrAccessDenied)
		return
	}

	stored, err := r.cs.db.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:      r.id,
		SenderId:    c.user.Id,
		Content:     cmd.Content,
		MessageType: string(types.MessageTypeText),
		CreatedAt:   req.received,
	})
	if err != nil {
		r.log.Println("error saving message:", err)
		c.sendError(ErrSendFailed)
		return
	}

	msg := types.ChatMessage{
		Id:          stored.Id,
		Content:     stored.Content,
		SenderId:    c.user.Id,
		SenderName:  c.user.Name,
		SenderImage: c.user.Image,
		RoomId:      r.id,
		MessageType: types.MessageType(stored.MessageType),
		CreatedAt:   stored.CreatedAt,
		IsRead:      stored.IsRead,
	}

	// the sender gets its own copy too and reconciles by id
	r.broadcast(types.NewMessageEvent(msg), nil)
	r.cs.stats.Incr(stats.MessagesPublished)

	r.notifyOffline(msg)
}

// notifyOffline records a notification for every participant, other than the
// sender, with no live connection. Failures are logged only.
func (r *Room) notifyOffline(msg types.ChatMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	participants, err := r.cs.db.GetRoomParticipants(ctx, r.id)
	if err != nil {
		r.log.Printf("%v: room %q: %v", ErrNotificationDeliveryFailed, r.id, err)
		return
	}

	preview := previewContent(msg.Content)
	for _, p := range participants {
		if p.Id == msg.SenderId || r.cs.presence.IsOnline(p.Id) {
			continue
		}

		err := r.cs.notifier.NotifyOffline(ctx, types.OfflineNotification{
			RecipientId:    p.Id,
			SenderId:       msg.SenderId,
			SenderName:     msg.SenderName,
			RoundId:        r.roundId,
			RoundTitle:     r.roundTitle,
			ContentPreview: preview,
			RoomId:         r.id,
			MessageId:      msg.Id,
		})
		if err != nil {
			r.log.Printf("%v: user %q: %v", ErrNotificationDeliveryFailed, p.Id, err)
			continue
		}
		r.cs.stats.Incr(stats.OfflineNotifications)
	}
}

// handleRead is best effort: failures are logged and never reach the client.
func (r *Room) handleRead(c *Client, cmd types.MarkRead) {
	if !r.isMember(c) {
		r.log.Printf("read receipt from %q for room %q it has not joined", c.user.Id, r.id)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	if err := r.cs.db.MarkMessageRead(ctx, r.id, cmd.MessageId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("message %q not in room", cmd.MessageId)
		}
		r.log.Printf("MarkMessageRead room %q: %v", r.id, err)
		return
	}

	r.broadcast(types.ReadEvent(types.ReadReceipt{
		RoomId:    r.id,
		MessageId: cmd.MessageId,
		UserId:    c.user.Id,
	}), c)
}

// handleTyping relays typing state to the other members. Connections that
// have not joined the room cannot emit into it.
func (r *Room) handleTyping(c *Client, cmd types.Typing) {
	if !r.isMember(c) {
		return
	}

	r.broadcast(types.TypingEvent(cmd.Started, types.TypingNotice{
		RoomId:   r.id,
		UserId:   c.user.Id,
		UserName: c.user.Name,
	}), c)
}

func (r *Room) isMember(c *Client) bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	return ok
}

func (r *Room) numClients() int {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return len(r.clients)
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) bool {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false
	}

	delete(r.clients, c)
	c.delRoom(r.id)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	r.log.Printf("removed connection %s of %q from room %q", c.id, c.user.Id, r.id)
	return true
}

// broadcast queues msg for every member, except skip when non-nil.
func (r *Room) broadcast(msg *types.ServerEvent, skip *Client) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == skip {
			continue
		}

		client.queueMessage(msg)
	}
}
