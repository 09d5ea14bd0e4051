package service

import (
	"errors"
	"fmt"
)

// 错误分类，handler 与 WebSocket 层据此映射到 HTTP 状态码或私有 error 事件。
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPersistence      = errors.New("persistence failure")
)

// Error 携带可以直接展示给客户端的文案，并通过 Unwrap 归入上面的某个分类。
type Error struct {
	Kind error
	Msg  string
}

func NewError(kind error, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

var (
	ErrListingNotFound = NewError(ErrNotFound, "listing not found")
	ErrRoomNotFound    = NewError(ErrNotFound, "chat room not found")
	ErrSelfChat        = NewError(ErrInvalidOperation, "cannot start a chat on your own listing")
	ErrEmptyContent    = NewError(ErrInvalidOperation, "message content is empty")
	ErrContentTooLong  = NewError(ErrInvalidOperation, "message content is too long")
	ErrNotMember       = NewError(ErrForbidden, "not a member of this chat room")
)

// storeErr 透传 NotFound，其余存储错误统一包装为 ErrPersistence。
func storeErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// PublicMessage 返回可以安全暴露给客户端的错误文案，不泄露存储层细节。
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	switch {
	case errors.Is(err, ErrPersistence):
		return "temporarily unable to complete the request"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidOperation):
		return "invalid request"
	case errors.Is(err, ErrUnauthenticated):
		return "authentication required"
	}
	return "internal error"
}
