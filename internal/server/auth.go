package server

import (
	"strings"

	"github.com/npezzotti/teetime-chat/internal/types"
)

// Handshake is the verified identity presented when a connection opens.
type Handshake struct {
	UserId string
	Name   string
	Image  string
}

// Authenticate turns a handshake into the user bound to the connection for
// its lifetime. A handshake without an id or name is rejected.
func Authenticate(h *Handshake) (types.User, error) {
	if h == nil || strings.TrimSpace(h.UserId) == "" || strings.TrimSpace(h.Name) == "" {
		return types.User{}, ErrAuthenticationRequired
	}

	return types.User{
		Id:    h.UserId,
		Name:  h.Name,
		Image: h.Image,
	}, nil
}
