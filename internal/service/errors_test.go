package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreErr(t *testing.T) {
	dbErr := errors.New("connection reset")

	err := storeErr("create message", dbErr)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, ErrNotFound)

	assert.Same(t, ErrRoomNotFound, storeErr("get room", ErrRoomNotFound))
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"typed error", ErrNotMember, "not a member of this chat room"},
		{"persistence hides cause", storeErr("create message", errors.New("pq: relation does not exist")), "temporarily unable to complete the request"},
		{"bare kind", ErrForbidden, "forbidden"},
		{"unknown", errors.New("boom"), "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicMessage(tt.err))
		})
	}
}
