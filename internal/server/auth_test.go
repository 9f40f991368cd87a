package server

import (
	"testing"

	"github.com/npezzotti/teetime-chat/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestAuthenticate(t *testing.T) {
	tcases := []struct {
		name      string
		handshake *Handshake
		expected  types.User
		err       error
	}{
		{
			name:      "valid",
			handshake: &Handshake{UserId: "u1", Name: "Ann", Image: "https://img/ann.png"},
			expected:  types.User{Id: "u1", Name: "Ann", Image: "https://img/ann.png"},
		},
		{
			name:      "no image",
			handshake: &Handshake{UserId: "u1", Name: "Ann"},
			expected:  types.User{Id: "u1", Name: "Ann"},
		},
		{name: "nil", handshake: nil, err: ErrAuthenticationRequired},
		{name: "missing id", handshake: &Handshake{Name: "Ann"}, err: ErrAuthenticationRequired},
		{name: "blank name", handshake: &Handshake{UserId: "u1", Name: "  "}, err: ErrAuthenticationRequired},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			user, err := Authenticate(tc.handshake)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, user)
		})
	}
}
