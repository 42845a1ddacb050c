package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/mahaj/lytecord/pkg/model"
	"github.com/mahaj/lytecord/pkg/protocol"
	"github.com/mahaj/lytecord/pkg/server"
	"github.com/mahaj/lytecord/pkg/store"
)

const joinCodeAttempts = 5

type guildRequest struct {
	GuildID int64 `json:"guild_id"`
}

func (r *guildRequest) valid() bool { return r.GuildID > 0 }

type createGuildRequest struct {
	Name string `json:"name"`
}

func (r *createGuildRequest) valid() bool { return r.Name != "" }

type createChannelRequest struct {
	Name    string `json:"name"`
	GuildID int64  `json:"guild_id"`
}

func (r *createChannelRequest) valid() bool { return r.Name != "" && r.GuildID > 0 }

type joinGuildRequest struct {
	Code string `json:"code"`
}

func (r *joinGuildRequest) valid() bool { return r.Code != "" }

// newJoinCode returns 8 random hex characters.
func newJoinCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (h *Handler) getGuilds(ctx context.Context, c server.Conn, _ protocol.Request) (response, error) {
	guilds, err := h.store.UserGuilds(ctx, currentUser(c).ID)
	if err != nil {
		return nil, dbError("user guilds", err)
	}
	if guilds == nil {
		guilds = []model.Guild{}
	}
	return success(response{"guilds": guilds}), nil
}

func (h *Handler) getChannels(ctx context.Context, _ server.Conn, req protocol.Request) (response, error) {
	var data guildRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}

	channels, err := h.store.Channels(ctx, data.GuildID)
	if err != nil {
		return nil, dbError("channels", err)
	}
	if len(channels) == 0 {
		if _, err := h.guild(ctx, data.GuildID); err != nil {
			return nil, err
		}
		channels = []model.Channel{}
	}
	return success(response{"channels": channels}), nil
}

func (h *Handler) createGuild(ctx context.Context, c server.Conn, req protocol.Request) (response, error) {
	var data createGuildRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}

	owner := currentUser(c)
	guild, err := model.NewGuild(h.ids.Next(), data.Name, owner.ID)
	if err != nil {
		return nil, fail("Could not create guild")
	}

	err = h.withJoinCode(func(code string) error {
		return h.store.CreateGuild(ctx, guild, code)
	})
	if err != nil {
		return nil, dbError("create guild", err)
	}
	if err := h.store.AddMember(ctx, guild.ID, owner.ID); err != nil {
		return nil, dbError("add member", err)
	}
	return success(response{"guild": guild}), nil
}

func (h *Handler) createChannel(ctx context.Context, c server.Conn, req protocol.Request) (response, error) {
	var data createChannelRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}

	if _, err := h.ownedGuild(ctx, c, data.GuildID); err != nil {
		return nil, err
	}

	channel, err := model.NewChannel(h.ids.Next(), data.Name, model.ChannelText, data.GuildID)
	if err != nil {
		return nil, fail("Could not create channel")
	}
	if err := h.store.CreateChannel(ctx, channel); err != nil {
		return nil, dbError("create channel", err)
	}
	return success(response{"channel": channel}), nil
}

func (h *Handler) getJoinCode(ctx context.Context, c server.Conn, req protocol.Request) (response, error) {
	var data guildRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}
	if _, err := h.ownedGuild(ctx, c, data.GuildID); err != nil {
		return nil, err
	}

	code, err := h.store.JoinCode(ctx, data.GuildID)
	if err != nil {
		return nil, dbError("join code", err)
	}
	return success(response{"code": code}), nil
}

func (h *Handler) refreshJoinCode(ctx context.Context, c server.Conn, req protocol.Request) (response, error) {
	var data guildRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}
	if _, err := h.ownedGuild(ctx, c, data.GuildID); err != nil {
		return nil, err
	}

	var code string
	err := h.withJoinCode(func(candidate string) error {
		code = candidate
		return h.store.SetJoinCode(ctx, data.GuildID, candidate)
	})
	if err != nil {
		return nil, dbError("set join code", err)
	}
	return success(response{"code": code}), nil
}

func (h *Handler) joinGuild(ctx context.Context, c server.Conn, req protocol.Request) (response, error) {
	var data joinGuildRequest
	if err := decode(req, &data); err != nil {
		return nil, err
	}

	guild, err := h.store.GuildByJoinCode(ctx, data.Code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail("Invalid code")
	}
	if err != nil {
		return nil, dbError("guild by join code", err)
	}

	user := currentUser(c)
	member, err := h.store.IsMember(ctx, guild.ID, user.ID)
	if err != nil {
		return nil, dbError("is member", err)
	}
	if member {
		return nil, fail("Already in requested guild (%s)", guild.Name)
	}

	if err := h.store.AddMember(ctx, guild.ID, user.ID); err != nil {
		return nil, dbError("add member", err)
	}
	return success(response{"message": "Joined guild", "guild": guild}), nil
}

func (h *Handler) guild(ctx context.Context, id int64) (model.Guild, error) {
	guild, err := h.store.Guild(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Guild{}, fail("Invalid guild id")
	}
	if err != nil {
		return model.Guild{}, dbError("guild", err)
	}
	return guild, nil
}

func (h *Handler) ownedGuild(ctx context.Context, c server.Conn, id int64) (model.Guild, error) {
	guild, err := h.guild(ctx, id)
	if err != nil {
		return model.Guild{}, err
	}
	if guild.OwnerID != currentUser(c).ID {
		return model.Guild{}, fail("You are not the owner of this guild")
	}
	return guild, nil
}

// withJoinCode calls claim with fresh codes until one is not taken.
func (h *Handler) withJoinCode(claim func(code string) error) error {
	var err error
	for i := 0; i < joinCodeAttempts; i++ {
		var code string
		if code, err = newJoinCode(); err != nil {
			return err
		}
		if err = claim(code); !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return err
}
