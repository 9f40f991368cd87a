package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/npezzotti/teetime-chat/internal/database"
	"github.com/npezzotti/teetime-chat/internal/stats"
	"github.com/npezzotti/teetime-chat/internal/types"
	"golang.org/x/sync/singleflight"
)

const (
	MaxContentLength = 1000
	previewLength    = 100
	previewCut       = 97

	dbTimeout     = 5 * time.Second
	sweepInterval = time.Minute
)

// Notifier records an out of band notification for a participant who is not
// connected when a message is posted.
type Notifier interface {
	NotifyOffline(ctx context.Context, n types.OfflineNotification) error
}

// Config selects the backing stores of a ChatServer. Nil fields fall back to
// process local defaults.
type Config struct {
	Permissions PermissionCache
	Limiter     RateLimiter
	Notifier    Notifier
}

type clientRequest struct {
	client   *Client
	cmd      types.ClientCommand
	received time.Time
}

// ChatServer is the connection gateway. Its Run loop owns the client and room
// maps; each loaded room runs in its own goroutine.
type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	notifier       Notifier
	stats          stats.StatsProvider
	perms          PermissionCache
	limiter        RateLimiter
	presence       *PresenceRegistry
	lookups        singleflight.Group
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	rooms          map[string]*Room
	routeChan      chan *clientRequest
	registerChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan string
	stop           chan struct{}
	stopOnce       sync.Once
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, su stats.StatsProvider, cfg Config) (*ChatServer, error) {
	if db == nil {
		return nil, errors.New("chat repository is required")
	}

	cs := &ChatServer{
		log:            logger,
		db:             db,
		notifier:       cfg.Notifier,
		stats:          su,
		perms:          cfg.Permissions,
		limiter:        cfg.Limiter,
		presence:       NewPresenceRegistry(),
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]*Room),
		routeChan:      make(chan *clientRequest, 256),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan string, 16),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	if cs.notifier == nil {
		cs.notifier = db
	}
	if cs.perms == nil {
		cs.perms = NewMemoryPermissionCache(DefaultPermissionTTL)
	}
	if cs.limiter == nil {
		cs.limiter = NewFixedWindowLimiter(DefaultRateLimit, DefaultRateWindow)
	}

	for _, m := range []string{
		stats.NumConnections,
		stats.NumActiveRooms,
		stats.MessagesPublished,
		stats.MessagesRejected,
		stats.OfflineNotifications,
	} {
		su.RegisterMetric(m)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case req := <-cs.routeChan:
			cs.routeRequest(req)
		case client := <-cs.registerChan:
			cs.log.Printf("adding connection %s for user %q", client.id, client.user.Id)
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection %s for user %q", client.id, client.user.Id)
			cs.removeClient(client)
		case id := <-cs.unloadRoomChan:
			cs.unloadRoom(id)
		case <-sweep.C:
			cs.sweep()
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for id, r := range cs.rooms {
				done := make(chan bool, 1)
				r.exit <- exitReq{force: true, done: done}
				<-done
				delete(cs.rooms, id)
			}

			cs.clientsLock.Lock()
			for c := range cs.clients {
				c.stopClient()
			}
			cs.clientsLock.Unlock()

			close(cs.done)
			return
		}
	}
}

// RegisterClient hands an authenticated connection to the gateway.
func (cs *ChatServer) RegisterClient(c *Client) error {
	select {
	case cs.registerChan <- c:
		return nil
	case <-cs.done:
		return ErrServiceUnavailable
	}
}

func (cs *ChatServer) deregister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) route(req *clientRequest) {
	select {
	case cs.routeChan <- req:
	default:
		cs.log.Printf("route channel full, dropping %s from %q", req.cmd.EventName(), req.client.user.Id)
		req.client.sendError(ErrServiceUnavailable)
	}
}

// routeRequest forwards a request to its room, loading the room for joins
// and sends. Other events for a room that is not loaded have no subscribers
// to reach and are dropped.
func (cs *ChatServer) routeRequest(req *clientRequest) {
	roomId := types.RoomId(req.cmd)
	r, ok := cs.rooms[roomId]
	if !ok {
		switch req.cmd.(type) {
		case types.JoinRoom, types.SendMessage:
		default:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
		dbRoom, err := cs.db.GetChatRoom(ctx, roomId)
		cancel()
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				cs.log.Printf("GetChatRoom %q: %v", roomId, err)
				req.client.sendError(ErrServiceUnavailable)
				return
			}
			req.client.sendError(ErrAccessDenied)
			return
		}
		if !dbRoom.IsActive {
			req.client.sendError(ErrAccessDenied)
			return
		}

		r = newRoom(cs, dbRoom)
		cs.rooms[r.id] = r
		cs.stats.Incr(stats.NumActiveRooms)
		go r.start()
	}

	if !r.enqueue(req) {
		req.client.sendError(ErrServiceUnavailable)
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.presence.MarkOnline(c.user.Id, c.id)
	cs.stats.Incr(stats.NumConnections)
}

// removeClient is the disconnect path: presence, bookkeeping, and a leave for
// every room the connection joined. Removing a client twice is a no-op.
func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	if _, ok := cs.clients[c]; !ok {
		cs.clientsLock.Unlock()
		return
	}
	delete(cs.clients, c)
	cs.clientsLock.Unlock()

	cs.presence.MarkOffline(c.user.Id, c.id)
	cs.stats.Decr(stats.NumConnections)

	for _, r := range c.joinedRooms() {
		req := &clientRequest{client: c, cmd: types.LeaveRoom{RoomId: r.id}, received: Now()}
		if !r.enqueue(req) {
			cs.log.Printf("room %q queue full, removing %s directly", r.id, c.id)
			r.handleLeave(c)
		}
	}
}

func (cs *ChatServer) unloadRoom(id string) {
	r, ok := cs.rooms[id]
	if !ok {
		return
	}

	done := make(chan bool, 1)
	r.exit <- exitReq{done: done}
	if !<-done {
		// the room picked up work since asking to be unloaded
		return
	}

	cs.log.Printf("unloaded room %q", id)
	delete(cs.rooms, id)
	cs.stats.Decr(stats.NumActiveRooms)
}

type cleaner interface {
	Cleanup()
}

func (cs *ChatServer) sweep() {
	if c, ok := cs.limiter.(cleaner); ok {
		c.Cleanup()
	}
	if c, ok := cs.perms.(cleaner); ok {
		c.Cleanup()
	}
}

// authorize answers "may user access room" from the permission cache,
// falling back to the repository on a miss. Concurrent misses for the same
// pair share one repository call.
func (cs *ChatServer) authorize(ctx context.Context, userId, roomId string) (bool, error) {
	allowed, found, err := cs.perms.Get(ctx, userId, roomId)
	if err != nil {
		cs.log.Printf("permission cache: %v", err)
	} else if found {
		return allowed, nil
	}

	v, err, _ := cs.lookups.Do(userId+"|"+roomId, func() (any, error) {
		ok, err := cs.db.CheckRoomAccess(ctx, userId, roomId)
		if err != nil {
			return false, err
		}

		if err := cs.perms.Set(ctx, userId, roomId, ok); err != nil {
			cs.log.Printf("permission cache: %v", err)
		}
		return ok, nil
	})
	if err != nil {
		return false, fmt.Errorf("authorize %q in %q: %w", userId, roomId, err)
	}

	return v.(bool), nil
}

// admit runs the checks that come before a send touches any room: the rate
// limit, then content bounds. It returns the content to store.
func (cs *ChatServer) admit(ctx context.Context, userId, content string) (string, error) {
	allowed, err := cs.limiter.Allow(ctx, userId)
	if err != nil {
		cs.log.Printf("rate limiter: %v", err)
		allowed = true
	}
	if !allowed {
		cs.stats.Incr(stats.MessagesRejected)
		return "", ErrRateLimitExceeded
	}

	content, err = validateContent(content)
	if err != nil {
		cs.stats.Incr(stats.MessagesRejected)
		return "", err
	}

	return content, nil
}

// IsOnline reports whether the user has a live connection to this gateway.
func (cs *ChatServer) IsOnline(userId string) bool {
	return cs.presence.IsOnline(userId)
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.stopOnce.Do(func() { close(cs.stop) })

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrInvalidContent
	}

	return trimmed, nil
}

func previewContent(content string) string {
	runes := []rune(content)
	if len(runes) > previewLength {
		return string(runes[:previewCut]) + "..."
	}

	return content
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
