package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/mahaj/lytecord/pkg/model"
	"github.com/mahaj/lytecord/pkg/protocol"
	"github.com/mahaj/lytecord/pkg/pubsub"
	"github.com/mahaj/lytecord/pkg/server"
	"github.com/mahaj/lytecord/pkg/snowflake"
	"github.com/mahaj/lytecord/pkg/store"
)

// MaxMessagesPerPage caps the count of a GetMessages request.
const MaxMessagesPerPage = 100

type messagesRequest struct {
	ChannelID int64 `json:"channel_id"`
	Before    int64 `json:"before"`
	Count     int   `json:"count"`
}

func (r *messagesRequest) valid() bool {
	return r.ChannelID > 0 && r.Before >= 0 && r.Count > 0
}

type subscriptionRequest struct {
	Subtype       string `json:"subtype"`
	ChannelID     int64  `json:"id"`
	LastMessageID int64  `json:"last_message_id"`
}

func (r *subscriptionRequest) valid() bool { return r.Subtype != "" }

type sendMessageRequest struct {
	Message struct {
		Content    string            `json:"content"`
		Attachment *model.Attachment `json:"attachment"`
	} `json:"message"`
}

func (r *sendMessageRequest) valid() bool {
	return r.Message.Content != "" || r.Message.Attachment != nil
}

func (h *Handler) getMessages(ctx context.Context, _ server.Conn, req protocol.Request) (response, error) {
	var data messagesRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}
	count := min(data.Count, MaxMessagesPerPage)

	h.log.Debug().
		Int64("channel_id", data.ChannelID).
		Int64("before", data.Before).
		Int("count", count).
		Msg("getting messages")

	messages, err := h.store.Messages(ctx, data.ChannelID, data.Before, count)
	if err != nil {
		return nil, dbError("messages", err)
	}
	if len(messages) == 0 {
		if _, err := h.channel(ctx, data.ChannelID); err != nil {
			return nil, err
		}
		messages = []model.Message{}
	}
	return success(response{"messages": messages}), nil
}

func (h *Handler) subscribe(ctx context.Context, c server.Conn, req protocol.Request, id uint32) (response, error) {
	var data subscriptionRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}
	if data.Subtype != "subscribe" {
		return nil, fail("Invalid subtype (use Subscribed=false request to unsubscribe)")
	}
	if c.Subscription() != nil {
		return nil, fail("Already subscribed")
	}

	channel, err := h.channel(ctx, data.ChannelID)
	if err != nil {
		return nil, err
	}

	user := currentUser(c)
	sub := pubsub.NewSubscription(id, channel.ID, user.ID, c, h.log)
	if _, err := h.registry.Subscribe(sub, data.LastMessageID); err != nil {
		return nil, err
	}
	c.SetSubscription(sub)
	// Missed messages go out after the confirmation
	c.AfterReply(sub.WakeUp)

	return success(response{
		"message": fmt.Sprintf("Subscribed to channel %s with id: %d", channel.Name, channel.ID),
	}), nil
}

func (h *Handler) unsubscribe(_ context.Context, c server.Conn, req protocol.Request) (response, error) {
	var data subscriptionRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}
	if data.Subtype != "unsubscribe" {
		return nil, fail("Invalid subtype (use sub=true to subscribe)")
	}

	sub := c.Subscription()
	if sub == nil {
		return nil, fail("Not subscribed")
	}
	sub.Stop()
	c.SetSubscription(nil)
	return success(response{"message": "Unsubscribed"}), nil
}

func (h *Handler) sendMessage(ctx context.Context, c server.Conn, req protocol.Request) (response, error) {
	sub := c.Subscription()
	if sub == nil {
		return nil, fail("Not subscribed to any channel")
	}

	var data sendMessageRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}

	var attachment *model.Attachment
	if a := data.Message.Attachment; a != nil {
		stored, err := h.store.Attachment(ctx, a.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fail("Invalid attachment id")
		}
		if err != nil {
			return nil, dbError("attachment", err)
		}
		attachment = &stored
	}

	id := h.ids.Next()
	msg, err := model.NewMessage(id, sub.ChannelID(), data.Message.Content, attachment, currentUser(c), snowflake.Timestamp(id))
	if err != nil {
		return nil, err
	}

	if err := h.store.SaveMessage(ctx, msg); err != nil {
		return nil, dbError("save message", err)
	}
	if !sub.SendMessage(msg) {
		return nil, fail("Failed to send message")
	}

	if h.relay != nil {
		if err := h.relay.Publish(ctx, msg); err != nil {
			h.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("relay publish failed")
		}
	}
	return success(response{"message": msg}), nil
}

func (h *Handler) channel(ctx context.Context, id int64) (model.Channel, error) {
	channel, err := h.store.Channel(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Channel{}, fail("Invalid channel id")
	}
	if err != nil {
		return model.Channel{}, dbError("channel", err)
	}
	return channel, nil
}
