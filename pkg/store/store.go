// Package store persists users, guilds, channels, messages and attachment
// metadata. Attachment bodies live in a BlobStore.
package store

import (
	"context"
	"errors"

	"github.com/mahaj/lytecord/pkg/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key (username, join code) is taken.
	ErrConflict = errors.New("already exists")
)

type Store interface {
	CreateUser(ctx context.Context, user model.User, passwordHash []byte) error
	User(ctx context.Context, id int64) (model.User, error)
	UserByName(ctx context.Context, username string) (model.User, []byte, error)

	CreateGuild(ctx context.Context, guild model.Guild, joinCode string) error
	Guild(ctx context.Context, id int64) (model.Guild, error)
	GuildByJoinCode(ctx context.Context, code string) (model.Guild, error)
	JoinCode(ctx context.Context, guildID int64) (string, error)
	SetJoinCode(ctx context.Context, guildID int64, code string) error
	AddMember(ctx context.Context, guildID, userID int64) error
	IsMember(ctx context.Context, guildID, userID int64) (bool, error)
	UserGuilds(ctx context.Context, userID int64) ([]model.Guild, error)

	CreateChannel(ctx context.Context, channel model.Channel) error
	Channel(ctx context.Context, id int64) (model.Channel, error)
	Channels(ctx context.Context, guildID int64) ([]model.Channel, error)

	SaveMessage(ctx context.Context, msg model.Message) error
	// Messages returns up to limit messages of channelID with id below
	// before, newest first. before == 0 selects the newest page.
	Messages(ctx context.Context, channelID, before int64, limit int) ([]model.Message, error)

	SaveAttachment(ctx context.Context, attachment model.Attachment, hash string) error
	Attachment(ctx context.Context, id int64) (model.Attachment, error)
	AttachmentByHash(ctx context.Context, hash string) (model.Attachment, error)
}

// BlobStore holds attachment file bodies keyed by attachment id.
type BlobStore interface {
	Put(ctx context.Context, id int64, data []byte) error
	Get(ctx context.Context, id int64) ([]byte, error)
}
