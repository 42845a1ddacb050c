// Package handler implements the business logic behind every request type.
package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/mahaj/lytecord/pkg/auth"
	"github.com/mahaj/lytecord/pkg/logging"
	"github.com/mahaj/lytecord/pkg/model"
	"github.com/mahaj/lytecord/pkg/protocol"
	"github.com/mahaj/lytecord/pkg/pubsub"
	"github.com/mahaj/lytecord/pkg/server"
	"github.com/mahaj/lytecord/pkg/snowflake"
	"github.com/mahaj/lytecord/pkg/store"
)

const maxLogSize = 2000

// Relay forwards accepted messages to other server instances.
type Relay interface {
	Publish(ctx context.Context, msg model.Message) error
}

type Handler struct {
	store    store.Store
	blobs    store.BlobStore
	registry *pubsub.Registry
	ids      *snowflake.Generator
	tokens   *auth.Issuer
	relay    Relay
	log      zerolog.Logger
}

type Option func(*Handler)

func WithRelay(r Relay) Option {
	return func(h *Handler) { h.relay = r }
}

func WithLogger(log zerolog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

func New(st store.Store, blobs store.BlobStore, registry *pubsub.Registry, ids *snowflake.Generator, tokens *auth.Issuer, opts ...Option) *Handler {
	h := &Handler{
		store:    st,
		blobs:    blobs,
		registry: registry,
		ids:      ids,
		tokens:   tokens,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type response map[string]any

func success(fields response) response {
	if fields == nil {
		fields = response{}
	}
	fields["status"] = "success"
	return fields
}

func errorResponse(message string) response {
	return response{"status": "error", "message": message}
}

type operation func(ctx context.Context, c server.Conn, req protocol.Request) (response, error)

// Handle dispatches on the request type and the subscribed flag.
func (h *Handler) Handle(ctx context.Context, c server.Conn, req protocol.Request, id uint32, subscribed bool) (protocol.Request, error) {
	var (
		op        operation
		anonymous bool
	)

	switch {
	case req.Type == protocol.Authenticate && !subscribed:
		op, anonymous = h.authenticate, true
	case req.Type == protocol.Register && !subscribed:
		op, anonymous = h.register, true
	case req.Type == protocol.GetGuilds && !subscribed:
		op = h.getGuilds
	case req.Type == protocol.GetChannels && !subscribed:
		op = h.getChannels
	case req.Type == protocol.GetMessages && !subscribed:
		op = h.getMessages
	case req.Type == protocol.ChannelSubscription && subscribed:
		op = func(ctx context.Context, c server.Conn, req protocol.Request) (response, error) {
			return h.subscribe(ctx, c, req, id)
		}
	case req.Type == protocol.ChannelSubscription && !subscribed:
		op = h.unsubscribe
	case req.Type == protocol.SendMessage && !subscribed:
		op = h.sendMessage
	case req.Type == protocol.CreateGuild && !subscribed:
		op = h.createGuild
	case req.Type == protocol.CreateChannel && !subscribed:
		op = h.createChannel
	case req.Type == protocol.GetJoinCode && !subscribed:
		op = h.getJoinCode
	case req.Type == protocol.RefreshJoinCode && !subscribed:
		op = h.refreshJoinCode
	case req.Type == protocol.JoinGuild && !subscribed:
		op = h.joinGuild
	case req.Type == protocol.GetAttachmentFile && !subscribed:
		op = h.getAttachmentFile
	case req.Type == protocol.UploadAttachment && !subscribed:
		op = h.uploadAttachment
	case req.Type == protocol.GetAsset && !subscribed:
		op, anonymous = h.getAsset, true
	default:
		return reply(req.Type, errorResponse("Invalid request type"))
	}

	if _, ok := c.User(); !ok && !anonymous {
		return reply(protocol.Unauthorized, errorResponse("Not logged in"))
	}

	res, err := op(ctx, c, req)
	if err != nil {
		res, err = h.classify(req, err)
		if err != nil {
			return protocol.Request{}, err
		}
	}
	return reply(req.Type, res)
}

// classify turns known failures into error responses. Anything else is
// returned for the session to report as an internal error.
func (h *Handler) classify(req protocol.Request, err error) (response, error) {
	var failure *Failure
	var dbErr *DatabaseError

	switch {
	case errors.As(err, &failure):
		return errorResponse(failure.Message), nil
	case errors.Is(err, errInvalidData), errors.Is(err, model.ErrInvalid):
		h.log.Warn().
			Err(err).
			Str("request_type", string(req.Type)).
			Str("payload", logging.Truncate(string(req.Data), maxLogSize)).
			Msg("invalid data")
		return errorResponse("Invalid data"), nil
	case errors.As(err, &dbErr):
		h.log.Error().Err(dbErr.Err).Str("op", dbErr.Op).Str("request_type", string(req.Type)).Msg("database error")
		return errorResponse("Database error"), nil
	default:
		return nil, err
	}
}

func reply(t protocol.RequestType, res response) (protocol.Request, error) {
	return protocol.NewRequest(t, res)
}

// payload is implemented by request bodies that can check their required
// fields.
type payload interface {
	valid() bool
}

func decode(req protocol.Request, v payload) error {
	if err := json.Unmarshal(req.Data, v); err != nil {
		return invalidData("%s: %v", req.Type, err)
	}
	if !v.valid() {
		return invalidData("%s: missing fields", req.Type)
	}
	return nil
}

func currentUser(c server.Conn) model.User {
	u, _ := c.User()
	return u
}

func (h *Handler) getAsset(context.Context, server.Conn, protocol.Request) (response, error) {
	return nil, fail("Unsupported request")
}
