package model

import "github.com/mahaj/lytecord/pkg/snowflake"

const MaxContentLength = 1500

// Message is a chat message. Its id is a snowflake whose high bits equal
// Timestamp, so sorting by id sorts by creation time.
type Message struct {
	ID         int64       `json:"id"`
	ChannelID  int64       `json:"channel_id"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment"`
	Author     User        `json:"author"`
	Timestamp  int64       `json:"timestamp"`
}

func NewMessage(id, channelID int64, content string, attachment *Attachment, author User, timestamp int64) (Message, error) {
	m := Message{
		ID:         id,
		ChannelID:  channelID,
		Content:    content,
		Attachment: attachment,
		Author:     author,
		Timestamp:  timestamp,
	}
	return m, m.Validate()
}

func (m Message) Validate() error {
	if err := validateID(m.ID); err != nil {
		return err
	}
	if n := len([]rune(m.Content)); n > MaxContentLength {
		return invalidf("content cannot be more than %d characters long", MaxContentLength)
	}
	if m.ChannelID <= 0 {
		return invalidf("channel id (%d) cannot be less than or equal to 0", m.ChannelID)
	}
	if m.Timestamp <= 0 {
		return invalidf("timestamp (%d) cannot be less than or equal to 0", m.Timestamp)
	}
	if m.Timestamp != snowflake.Timestamp(m.ID) {
		return invalidf("timestamp (%d) must be equal to the upper bits of id (%d)", m.Timestamp, m.ID)
	}
	if m.Attachment != nil {
		if err := m.Attachment.Validate(); err != nil {
			return err
		}
	}
	return nil
}
