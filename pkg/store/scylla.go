package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/mahaj/lytecord/pkg/db"
	"github.com/mahaj/lytecord/pkg/model"
)

// ScyllaStore is a Store backed by ScyllaDB. Unique keys are claimed with
// lightweight transactions on lookup tables.
type ScyllaStore struct {
	session *db.Session
}

func NewScyllaStore(session *db.Session) *ScyllaStore {
	return &ScyllaStore{session: session}
}

func (s *ScyllaStore) query(ctx context.Context, stmt string, args ...interface{}) *gocql.Query {
	return s.session.Query(stmt, args...).WithContext(ctx)
}

// claim inserts a row into a lookup table if its key is free.
func (s *ScyllaStore) claim(ctx context.Context, stmt string, args ...interface{}) error {
	applied, err := s.query(ctx, stmt, args...).MapScanCAS(make(map[string]interface{}))
	if err != nil {
		return err
	}
	if !applied {
		return ErrConflict
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *ScyllaStore) CreateUser(ctx context.Context, user model.User, passwordHash []byte) error {
	if err := s.claim(ctx, `INSERT INTO users_by_name (username, id) VALUES (?, ?) IF NOT EXISTS`,
		user.Username, user.ID); err != nil {
		return err
	}
	return s.query(ctx, `INSERT INTO users (id, username, name_color, password_hash) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, user.NameColor, passwordHash).Exec()
}

func (s *ScyllaStore) User(ctx context.Context, id int64) (model.User, error) {
	u := model.User{ID: id}
	err := s.query(ctx, `SELECT username, name_color FROM users WHERE id = ?`, id).
		Scan(&u.Username, &u.NameColor)
	if err != nil {
		return model.User{}, notFound(err)
	}
	return u, nil
}

func (s *ScyllaStore) UserByName(ctx context.Context, username string) (model.User, []byte, error) {
	var id int64
	if err := s.query(ctx, `SELECT id FROM users_by_name WHERE username = ?`, username).Scan(&id); err != nil {
		return model.User{}, nil, notFound(err)
	}

	u := model.User{ID: id}
	var hash []byte
	err := s.query(ctx, `SELECT username, name_color, password_hash FROM users WHERE id = ?`, id).
		Scan(&u.Username, &u.NameColor, &hash)
	if err != nil {
		return model.User{}, nil, notFound(err)
	}
	return u, hash, nil
}

func (s *ScyllaStore) CreateGuild(ctx context.Context, guild model.Guild, joinCode string) error {
	if err := s.claim(ctx, `INSERT INTO guilds_by_code (join_code, guild_id) VALUES (?, ?) IF NOT EXISTS`,
		joinCode, guild.ID); err != nil {
		return err
	}
	return s.query(ctx, `INSERT INTO guilds (id, name, owner_id, join_code) VALUES (?, ?, ?, ?)`,
		guild.ID, guild.Name, guild.OwnerID, joinCode).Exec()
}

func (s *ScyllaStore) Guild(ctx context.Context, id int64) (model.Guild, error) {
	g := model.Guild{ID: id}
	err := s.query(ctx, `SELECT name, owner_id FROM guilds WHERE id = ?`, id).Scan(&g.Name, &g.OwnerID)
	if err != nil {
		return model.Guild{}, notFound(err)
	}
	return g, nil
}

func (s *ScyllaStore) GuildByJoinCode(ctx context.Context, code string) (model.Guild, error) {
	var id int64
	if err := s.query(ctx, `SELECT guild_id FROM guilds_by_code WHERE join_code = ?`, code).Scan(&id); err != nil {
		return model.Guild{}, notFound(err)
	}
	return s.Guild(ctx, id)
}

func (s *ScyllaStore) JoinCode(ctx context.Context, guildID int64) (string, error) {
	var code string
	if err := s.query(ctx, `SELECT join_code FROM guilds WHERE id = ?`, guildID).Scan(&code); err != nil {
		return "", notFound(err)
	}
	return code, nil
}

func (s *ScyllaStore) SetJoinCode(ctx context.Context, guildID int64, code string) error {
	old, err := s.JoinCode(ctx, guildID)
	if err != nil {
		return err
	}
	if err := s.claim(ctx, `INSERT INTO guilds_by_code (join_code, guild_id) VALUES (?, ?) IF NOT EXISTS`,
		code, guildID); err != nil {
		return err
	}
	if err := s.query(ctx, `UPDATE guilds SET join_code = ? WHERE id = ?`, code, guildID).Exec(); err != nil {
		return err
	}
	return s.query(ctx, `DELETE FROM guilds_by_code WHERE join_code = ?`, old).Exec()
}

func (s *ScyllaStore) AddMember(ctx context.Context, guildID, userID int64) error {
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO guild_members (guild_id, user_id) VALUES (?, ?)`, guildID, userID)
	batch.Query(`INSERT INTO user_guilds (user_id, guild_id) VALUES (?, ?)`, userID, guildID)
	return s.session.ExecuteBatch(batch)
}

func (s *ScyllaStore) IsMember(ctx context.Context, guildID, userID int64) (bool, error) {
	var id int64
	err := s.query(ctx, `SELECT user_id FROM guild_members WHERE guild_id = ? AND user_id = ?`, guildID, userID).Scan(&id)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *ScyllaStore) UserGuilds(ctx context.Context, userID int64) ([]model.Guild, error) {
	iter := s.query(ctx, `SELECT guild_id FROM user_guilds WHERE user_id = ?`, userID).Iter()

	var ids []int64
	var id int64
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	guilds := make([]model.Guild, 0, len(ids))
	for _, id := range ids {
		g, err := s.Guild(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		guilds = append(guilds, g)
	}
	return guilds, nil
}

func (s *ScyllaStore) CreateChannel(ctx context.Context, channel model.Channel) error {
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO channels (id, name, type, guild_id) VALUES (?, ?, ?, ?)`,
		channel.ID, channel.Name, int(channel.Type), channel.GuildID)
	batch.Query(`INSERT INTO channels_by_guild (guild_id, id) VALUES (?, ?)`, channel.GuildID, channel.ID)
	return s.session.ExecuteBatch(batch)
}

func (s *ScyllaStore) Channel(ctx context.Context, id int64) (model.Channel, error) {
	c := model.Channel{ID: id}
	var channelType int
	err := s.query(ctx, `SELECT name, type, guild_id FROM channels WHERE id = ?`, id).
		Scan(&c.Name, &channelType, &c.GuildID)
	if err != nil {
		return model.Channel{}, notFound(err)
	}
	c.Type = model.ChannelType(channelType)
	return c, nil
}

func (s *ScyllaStore) Channels(ctx context.Context, guildID int64) ([]model.Channel, error) {
	iter := s.query(ctx, `SELECT id FROM channels_by_guild WHERE guild_id = ?`, guildID).Iter()

	var ids []int64
	var id int64
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	channels := make([]model.Channel, 0, len(ids))
	for _, id := range ids {
		c, err := s.Channel(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", id, err)
		}
		channels = append(channels, c)
	}
	return channels, nil
}

func (s *ScyllaStore) SaveMessage(ctx context.Context, msg model.Message) error {
	var attachmentID int64
	if msg.Attachment != nil {
		attachmentID = msg.Attachment.ID
	}
	return s.query(ctx, `INSERT INTO messages (channel_id, id, author_id, content, attachment_id, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ChannelID, msg.ID, msg.Author.ID, msg.Content, attachmentID, msg.Timestamp).Exec()
}

func (s *ScyllaStore) Messages(ctx context.Context, channelID, before int64, limit int) ([]model.Message, error) {
	var q *gocql.Query
	if before != 0 {
		q = s.query(ctx, `SELECT id, author_id, content, attachment_id, timestamp FROM messages WHERE channel_id = ? AND id < ? LIMIT ?`,
			channelID, before, limit)
	} else {
		q = s.query(ctx, `SELECT id, author_id, content, attachment_id, timestamp FROM messages WHERE channel_id = ? LIMIT ?`,
			channelID, limit)
	}

	type row struct {
		msg          model.Message
		authorID     int64
		attachmentID int64
	}

	iter := q.Iter()
	var rows []row
	var r row
	for iter.Scan(&r.msg.ID, &r.authorID, &r.msg.Content, &r.attachmentID, &r.msg.Timestamp) {
		r.msg.ChannelID = channelID
		rows = append(rows, r)
		r = row{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	authors := make(map[int64]model.User)
	messages := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		author, ok := authors[r.authorID]
		if !ok {
			u, err := s.User(ctx, r.authorID)
			if err != nil {
				return nil, fmt.Errorf("author %d of message %d: %w", r.authorID, r.msg.ID, err)
			}
			author = u
			authors[r.authorID] = u
		}
		r.msg.Author = author

		if r.attachmentID != 0 {
			a, err := s.Attachment(ctx, r.attachmentID)
			if err != nil {
				return nil, fmt.Errorf("attachment %d of message %d: %w", r.attachmentID, r.msg.ID, err)
			}
			r.msg.Attachment = &a
		}
		messages = append(messages, r.msg)
	}
	return messages, nil
}

func (s *ScyllaStore) SaveAttachment(ctx context.Context, attachment model.Attachment, hash string) error {
	if err := s.claim(ctx, `INSERT INTO attachments_by_hash (hash, id) VALUES (?, ?) IF NOT EXISTS`,
		hash, attachment.ID); err != nil {
		return err
	}
	return s.query(ctx, `INSERT INTO attachments (id, filename, type, width, height, size, hash) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attachment.ID, attachment.Filename, int(attachment.Type), attachment.Width, attachment.Height, attachment.Size, hash).Exec()
}

func (s *ScyllaStore) Attachment(ctx context.Context, id int64) (model.Attachment, error) {
	a := model.Attachment{ID: id}
	var attachmentType int
	err := s.query(ctx, `SELECT filename, type, width, height, size FROM attachments WHERE id = ?`, id).
		Scan(&a.Filename, &attachmentType, &a.Width, &a.Height, &a.Size)
	if err != nil {
		return model.Attachment{}, notFound(err)
	}
	a.Type = model.AttachmentType(attachmentType)
	return a, nil
}

func (s *ScyllaStore) AttachmentByHash(ctx context.Context, hash string) (model.Attachment, error) {
	var id int64
	if err := s.query(ctx, `SELECT id FROM attachments_by_hash WHERE hash = ?`, hash).Scan(&id); err != nil {
		return model.Attachment{}, notFound(err)
	}
	return s.Attachment(ctx, id)
}
