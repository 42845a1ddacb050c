package model

import "strings"

type ChannelType int

const (
	ChannelText ChannelType = iota
	ChannelVideo
)

func (t ChannelType) String() string {
	switch t {
	case ChannelText:
		return "text"
	case ChannelVideo:
		return "video"
	default:
		return "unknown"
	}
}

const (
	MinChannelNameLength = 3
	MaxChannelNameLength = 20
)

type Channel struct {
	ID      int64       `json:"id"`
	Name    string      `json:"name"`
	Type    ChannelType `json:"type"`
	GuildID int64       `json:"guild_id"`
}

func NewChannel(id int64, name string, channelType ChannelType, guildID int64) (Channel, error) {
	c := Channel{ID: id, Name: name, Type: channelType, GuildID: guildID}
	return c, c.Validate()
}

func (c Channel) Validate() error {
	if err := validateID(c.ID); err != nil {
		return err
	}
	if c.Name != strings.ToLower(c.Name) {
		return invalidf("name (%s) must be all lowercase", c.Name)
	}
	if err := validateLength("name", c.Name, MinChannelNameLength, MaxChannelNameLength); err != nil {
		return err
	}
	if c.Type != ChannelText && c.Type != ChannelVideo {
		return invalidf("channel type (%d) is unknown", c.Type)
	}
	if c.GuildID <= 0 {
		return invalidf("guild id (%d) cannot be less than or equal to 0", c.GuildID)
	}
	return nil
}
