package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mahaj/lytecord/pkg/model"
)

type guildRecord struct {
	guild    model.Guild
	joinCode string
	members  map[int64]struct{}
}

// MemoryStore is a Store kept in process memory, used in development and
// tests.
type MemoryStore struct {
	mu sync.RWMutex

	users         map[int64]model.User
	passwords     map[int64][]byte
	usersByName   map[string]int64
	guilds        map[int64]*guildRecord
	guildsByCode  map[string]int64
	userGuilds    map[int64][]int64
	channels      map[int64]model.Channel
	messages      map[int64][]model.Message // per channel, newest first
	attachments   map[int64]model.Attachment
	attachmentIDs map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[int64]model.User),
		passwords:     make(map[int64][]byte),
		usersByName:   make(map[string]int64),
		guilds:        make(map[int64]*guildRecord),
		guildsByCode:  make(map[string]int64),
		userGuilds:    make(map[int64][]int64),
		channels:      make(map[int64]model.Channel),
		messages:      make(map[int64][]model.Message),
		attachments:   make(map[int64]model.Attachment),
		attachmentIDs: make(map[string]int64),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, user model.User, passwordHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usersByName[user.Username]; taken {
		return ErrConflict
	}
	s.users[user.ID] = user
	s.passwords[user.ID] = append([]byte(nil), passwordHash...)
	s.usersByName[user.Username] = user.ID
	return nil
}

func (s *MemoryStore) User(_ context.Context, id int64) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) UserByName(_ context.Context, username string) (model.User, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[username]
	if !ok {
		return model.User{}, nil, ErrNotFound
	}
	return s.users[id], s.passwords[id], nil
}

func (s *MemoryStore) CreateGuild(_ context.Context, guild model.Guild, joinCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.guildsByCode[joinCode]; taken {
		return ErrConflict
	}
	s.guilds[guild.ID] = &guildRecord{guild: guild, joinCode: joinCode, members: make(map[int64]struct{})}
	s.guildsByCode[joinCode] = guild.ID
	return nil
}

func (s *MemoryStore) Guild(_ context.Context, id int64) (model.Guild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.guilds[id]
	if !ok {
		return model.Guild{}, ErrNotFound
	}
	return rec.guild, nil
}

func (s *MemoryStore) GuildByJoinCode(_ context.Context, code string) (model.Guild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.guildsByCode[code]
	if !ok {
		return model.Guild{}, ErrNotFound
	}
	return s.guilds[id].guild, nil
}

func (s *MemoryStore) JoinCode(_ context.Context, guildID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.guilds[guildID]
	if !ok {
		return "", ErrNotFound
	}
	return rec.joinCode, nil
}

func (s *MemoryStore) SetJoinCode(_ context.Context, guildID int64, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.guilds[guildID]
	if !ok {
		return ErrNotFound
	}
	if _, taken := s.guildsByCode[code]; taken {
		return ErrConflict
	}
	delete(s.guildsByCode, rec.joinCode)
	rec.joinCode = code
	s.guildsByCode[code] = guildID
	return nil
}

func (s *MemoryStore) AddMember(_ context.Context, guildID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.guilds[guildID]
	if !ok {
		return ErrNotFound
	}
	if _, member := rec.members[userID]; member {
		return nil
	}
	rec.members[userID] = struct{}{}
	s.userGuilds[userID] = append(s.userGuilds[userID], guildID)
	return nil
}

func (s *MemoryStore) IsMember(_ context.Context, guildID, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.guilds[guildID]
	if !ok {
		return false, nil
	}
	_, member := rec.members[userID]
	return member, nil
}

func (s *MemoryStore) UserGuilds(_ context.Context, userID int64) ([]model.Guild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Guild, 0, len(s.userGuilds[userID]))
	for _, id := range s.userGuilds[userID] {
		out = append(out, s.guilds[id].guild)
	}
	return out, nil
}

func (s *MemoryStore) CreateChannel(_ context.Context, channel model.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.guilds[channel.GuildID]; !ok {
		return ErrNotFound
	}
	s.channels[channel.ID] = channel
	return nil
}

func (s *MemoryStore) Channel(_ context.Context, id int64) (model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.channels[id]
	if !ok {
		return model.Channel{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) Channels(_ context.Context, guildID int64) ([]model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Channel
	for _, c := range s.channels {
		if c.GuildID == guildID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[msg.ChannelID]
	i := sort.Search(len(list), func(i int) bool { return list[i].ID <= msg.ID })
	if i < len(list) && list[i].ID == msg.ID {
		list[i] = msg
		return nil
	}
	list = append(list, model.Message{})
	copy(list[i+1:], list[i:])
	list[i] = msg
	s.messages[msg.ChannelID] = list
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, channelID, before int64, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.messages[channelID]
	start := 0
	if before != 0 {
		start = sort.Search(len(list), func(i int) bool { return list[i].ID < before })
	}
	end := min(start+limit, len(list))
	if start >= end {
		return nil, nil
	}

	out := make([]model.Message, end-start)
	copy(out, list[start:end])
	return out, nil
}

func (s *MemoryStore) SaveAttachment(_ context.Context, attachment model.Attachment, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.attachmentIDs[hash]; taken {
		return ErrConflict
	}
	s.attachments[attachment.ID] = attachment
	s.attachmentIDs[hash] = attachment.ID
	return nil
}

func (s *MemoryStore) Attachment(_ context.Context, id int64) (model.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attachments[id]
	if !ok {
		return model.Attachment{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) AttachmentByHash(_ context.Context, hash string) (model.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.attachmentIDs[hash]
	if !ok {
		return model.Attachment{}, ErrNotFound
	}
	return s.attachments[id], nil
}
