package server

import (
	"context"
	"errors"

	"github.com/mahaj/lytecord/pkg/model"
	"github.com/mahaj/lytecord/pkg/protocol"
	"github.com/mahaj/lytecord/pkg/pubsub"
)

var (
	// ErrSessionClosed is returned by Push once the session is tearing down.
	ErrSessionClosed = errors.New("session closed")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrServerClosed  = errors.New("server closed")
)

// Conn is the per-connection state a Handler works with.
type Conn interface {
	ID() string
	RemoteAddr() string
	// Context is cancelled when the connection goes away.
	Context() context.Context

	User() (model.User, bool)
	SetUser(user model.User)

	// Subscription returns the active channel subscription, if any. The
	// session stops it on teardown.
	Subscription() *pubsub.Subscription
	SetSubscription(sub *pubsub.Subscription)

	// Push queues an envelope that does not answer the current request.
	Push(env protocol.Envelope) error
	// AfterReply runs fn once the reply to the current request is queued.
	AfterReply(fn func())
}

// Handler turns one request into its reply. A returned error is logged and
// answered with a generic internal error.
type Handler interface {
	Handle(ctx context.Context, c Conn, req protocol.Request, id uint32, subscribed bool) (protocol.Request, error)
}

type HandlerFunc func(ctx context.Context, c Conn, req protocol.Request, id uint32, subscribed bool) (protocol.Request, error)

func (f HandlerFunc) Handle(ctx context.Context, c Conn, req protocol.Request, id uint32, subscribed bool) (protocol.Request, error) {
	return f(ctx, c, req, id, subscribed)
}
