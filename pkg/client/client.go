package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mahaj/lytecord/pkg/model"
	"github.com/mahaj/lytecord/pkg/protocol"
)

const unexpectedError = "Unexpected client error"

// ResponseError is an error response from the server. Message is meant for
// the user.
type ResponseError struct {
	Type    protocol.RequestType
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Client is the typed request API. Its methods block until the response
// arrives and must not be called from inside a Dispatcher callback that the
// same Mux is waiting to run.
type Client struct {
	mux *Mux
	log zerolog.Logger

	mu   sync.Mutex
	user *model.User
}

// New starts a multiplexer over t and returns a client using it.
func New(t protocol.Transport, opts ...MuxOption) *Client {
	m := NewMux(t, opts...)
	m.Start()
	return &Client{mux: m, log: m.log}
}

func (c *Client) Mux() *Mux { return c.mux }

func (c *Client) Close() error { return c.mux.Close() }

// User returns the logged in user.
func (c *Client) User() (model.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return model.User{}, false
	}
	return *c.user, true
}

// status is the common part of every response. Message is text on errors
// but a domain object on some successes, such as SendMessage.
type status struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message"`
}

// call sends one request and decodes a success response into out.
func (c *Client) call(ctx context.Context, t protocol.RequestType, data any, out any) error {
	req, err := protocol.NewRequest(t, data)
	if err != nil {
		return err
	}

	replies := make(chan protocol.Request, 1)
	if err := c.mux.roundTrip(req, func(res protocol.Request) { replies <- res }); err != nil {
		return err
	}

	select {
	case res := <-replies:
		return decodeResponse(t, res, out)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeResponse(t protocol.RequestType, res protocol.Request, out any) error {
	var st status
	if err := res.Decode(&st); err != nil {
		return &ResponseError{Type: t, Message: unexpectedError}
	}
	if st.Status != "success" {
		var message string
		if err := json.Unmarshal(st.Message, &message); err != nil || message == "" {
			message = unexpectedError
		}
		return &ResponseError{Type: res.Type, Message: message}
	}
	if out != nil {
		if err := res.Decode(out); err != nil {
			return &ResponseError{Type: t, Message: unexpectedError}
		}
	}
	return nil
}

type authResult struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

func (c *Client) authenticate(ctx context.Context, data map[string]string) (model.User, string, error) {
	var res authResult
	if err := c.call(ctx, protocol.Authenticate, data, &res); err != nil {
		return model.User{}, "", err
	}

	c.mu.Lock()
	c.user = &res.User
	c.mu.Unlock()
	c.log.Info().Str("username", res.User.Username).Msg("logged in")
	return res.User, res.Token, nil
}

// Login returns the user and a session token for resuming with Resume.
func (c *Client) Login(ctx context.Context, username, password string) (model.User, string, error) {
	return c.authenticate(ctx, map[string]string{
		"subtype":  "login",
		"username": username,
		"password": password,
	})
}

func (c *Client) Register(ctx context.Context, username, password, nameColor string) (model.User, string, error) {
	return c.authenticate(ctx, map[string]string{
		"subtype":    "register",
		"username":   username,
		"password":   password,
		"name_color": nameColor,
	})
}

func (c *Client) Resume(ctx context.Context, token string) (model.User, string, error) {
	return c.authenticate(ctx, map[string]string{"subtype": "token", "token": token})
}

func (c *Client) Guilds(ctx context.Context) ([]model.Guild, error) {
	var res struct {
		Guilds []model.Guild `json:"guilds"`
	}
	err := c.call(ctx, protocol.GetGuilds, struct{}{}, &res)
	return res.Guilds, err
}

func (c *Client) Channels(ctx context.Context, guildID int64) ([]model.Channel, error) {
	var res struct {
		Channels []model.Channel `json:"channels"`
	}
	err := c.call(ctx, protocol.GetChannels, map[string]int64{"guild_id": guildID}, &res)
	return res.Channels, err
}

// Messages returns up to count messages older than before, newest first. A
// zero before asks for the newest page.
func (c *Client) Messages(ctx context.Context, channelID, before int64, count int) ([]model.Message, error) {
	var res struct {
		Messages []model.Message `json:"messages"`
	}
	err := c.call(ctx, protocol.GetMessages, map[string]any{
		"channel_id": channelID,
		"before":     before,
		"count":      count,
	}, &res)
	return res.Messages, err
}

// Subscribe subscribes to a channel and returns the subscription id. Messages
// newer than lastMessageID are passed to onMessage through the dispatcher.
func (c *Client) Subscribe(ctx context.Context, channelID, lastMessageID int64, onMessage func(model.Message)) (uint32, error) {
	req, err := protocol.NewRequest(protocol.ChannelSubscription, map[string]any{
		"subtype":         "subscribe",
		"id":              channelID,
		"last_message_id": lastMessageID,
	})
	if err != nil {
		return 0, err
	}

	var once sync.Once
	confirmed := make(chan protocol.Request, 1)

	id, err := c.mux.subscribeDirect(req, func(res protocol.Request) {
		// Pushes carry a message and no status
		var push struct {
			Status  *string          `json:"status"`
			Message *json.RawMessage `json:"message"`
		}
		if err := res.Decode(&push); err == nil && push.Status == nil && push.Message != nil {
			var msg model.Message
			if err := json.Unmarshal(*push.Message, &msg); err != nil {
				c.log.Warn().Err(err).Msg("bad subscription push")
				return
			}
			c.mux.dispatch(func() { onMessage(msg) })
			return
		}
		once.Do(func() { confirmed <- res })
	})
	if err != nil {
		return 0, err
	}

	select {
	case res := <-confirmed:
		if err := decodeResponse(protocol.ChannelSubscription, res, nil); err != nil {
			c.mux.forget(id)
			return 0, err
		}
		return id, nil
	case <-c.mux.Done():
		return 0, ErrClosed
	case <-ctx.Done():
		c.abandon(id)
		return 0, ctx.Err()
	}
}

// abandon drops a subscription whose confirmation was not awaited. The server
// may still have registered it, so it is told to unsubscribe as well.
func (c *Client) abandon(id uint32) {
	c.mux.forget(id)
	req, err := protocol.NewRequest(protocol.ChannelSubscription, map[string]string{"subtype": "unsubscribe"})
	if err != nil {
		return
	}
	if err := c.mux.roundTrip(req, func(protocol.Request) {}); err != nil {
		c.log.Debug().Err(err).Uint32("subscription_id", id).Msg("unsubscribe after cancelled subscribe")
	}
}

// Unsubscribe stops the subscription with the given id.
func (c *Client) Unsubscribe(ctx context.Context, id uint32) error {
	c.mux.forget(id)
	return c.call(ctx, protocol.ChannelSubscription, map[string]string{"subtype": "unsubscribe"}, nil)
}

// SendMessage posts to the subscribed channel and returns the stored message.
func (c *Client) SendMessage(ctx context.Context, content string, attachment *model.Attachment) (model.Message, error) {
	var res struct {
		Message model.Message `json:"message"`
	}
	err := c.call(ctx, protocol.SendMessage, map[string]any{
		"message": map[string]any{"content": content, "attachment": attachment},
	}, &res)
	return res.Message, err
}

func (c *Client) CreateGuild(ctx context.Context, name string) (model.Guild, error) {
	var res struct {
		Guild model.Guild `json:"guild"`
	}
	err := c.call(ctx, protocol.CreateGuild, map[string]string{"name": name}, &res)
	return res.Guild, err
}

func (c *Client) CreateChannel(ctx context.Context, name string, guildID int64) (model.Channel, error) {
	var res struct {
		Channel model.Channel `json:"channel"`
	}
	err := c.call(ctx, protocol.CreateChannel, map[string]any{
		"name":     name,
		"guild_id": guildID,
		"type":     model.ChannelText,
	}, &res)
	return res.Channel, err
}

func (c *Client) JoinCode(ctx context.Context, guildID int64) (string, error) {
	return c.code(ctx, protocol.GetJoinCode, guildID)
}

func (c *Client) RefreshJoinCode(ctx context.Context, guildID int64) (string, error) {
	return c.code(ctx, protocol.RefreshJoinCode, guildID)
}

func (c *Client) code(ctx context.Context, t protocol.RequestType, guildID int64) (string, error) {
	var res struct {
		Code string `json:"code"`
	}
	err := c.call(ctx, t, map[string]int64{"guild_id": guildID}, &res)
	return res.Code, err
}

func (c *Client) JoinGuild(ctx context.Context, code string) (model.Guild, error) {
	var res struct {
		Guild model.Guild `json:"guild"`
	}
	err := c.call(ctx, protocol.JoinGuild, map[string]string{"code": code}, &res)
	return res.Guild, err
}

// AttachmentFile downloads an attachment body.
func (c *Client) AttachmentFile(ctx context.Context, attachmentID int64) ([]byte, error) {
	var res struct {
		File string `json:"file"`
	}
	if err := c.call(ctx, protocol.GetAttachmentFile, map[string]int64{"attachment_id": attachmentID}, &res); err != nil {
		return nil, err
	}

	body, err := protocol.DecodeFile(res.File, model.MaxAttachmentSize)
	if err != nil {
		c.log.Warn().Err(err).Int64("attachment_id", attachmentID).Msg("bad attachment file")
		return nil, &ResponseError{Type: protocol.GetAttachmentFile, Message: unexpectedError}
	}
	return body, nil
}

func (c *Client) UploadAttachment(ctx context.Context, filename string, t model.AttachmentType, body []byte) (model.Attachment, error) {
	file, err := protocol.EncodeFile(body)
	if err != nil {
		return model.Attachment{}, err
	}

	var res struct {
		Attachment model.Attachment `json:"attachment"`
	}
	err = c.call(ctx, protocol.UploadAttachment, map[string]any{
		"filename": filename,
		"type":     t,
		"file":     file,
	}, &res)
	return res.Attachment, err
}

// IsResponseError reports whether err is an error response and returns its
// message.
func IsResponseError(err error) (string, bool) {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Message, true
	}
	return "", false
}
