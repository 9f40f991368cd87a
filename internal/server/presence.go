package server

import "sync"

// PresenceRegistry tracks which users have at least one live connection.
type PresenceRegistry struct {
	mu          sync.RWMutex
	users       map[string]map[string]struct{} // user id -> connection ids
	connections map[string]string              // connection id -> user id
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		users:       make(map[string]map[string]struct{}),
		connections: make(map[string]string),
	}
}

func (p *PresenceRegistry) MarkOnline(userId, connId string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.connections[connId]; ok && prev != userId {
		p.removeLocked(prev, connId)
	}

	if p.users[userId] == nil {
		p.users[userId] = make(map[string]struct{})
	}
	p.users[userId][connId] = struct{}{}
	p.connections[connId] = userId
}

// MarkOffline removes connId for userId. It is a no-op unless that exact
// connection is on record for the user, so a late disconnect from an old
// connection cannot take a user offline.
func (p *PresenceRegistry) MarkOffline(userId, connId string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if owner, ok := p.connections[connId]; !ok || owner != userId {
		return
	}
	p.removeLocked(userId, connId)
}

func (p *PresenceRegistry) removeLocked(userId, connId string) {
	delete(p.connections, connId)
	if conns, ok := p.users[userId]; ok {
		delete(conns, connId)
		if len(conns) == 0 {
			delete(p.users, userId)
		}
	}
}

func (p *PresenceRegistry) IsOnline(userId string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.users[userId]) > 0
}

// Connections returns the number of live connections for a user.
func (p *PresenceRegistry) Connections(userId string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.users[userId])
}
