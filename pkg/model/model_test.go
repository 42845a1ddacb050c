package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/mahaj/lytecord/pkg/snowflake"
)

var author = User{ID: 1, Username: "alice", NameColor: "#ff8800"}

func TestNewMessage(t *testing.T) {
	t.Parallel()

	const ts = 1_700_000_000
	id := int64(ts)<<snowflake.TagBits | 7

	tests := []struct {
		name      string
		id        int64
		channelID int64
		content   string
		timestamp int64
		wantErr   bool
	}{
		{name: "valid", id: id, channelID: 3, content: "hello", timestamp: ts},
		{name: "max content", id: id, channelID: 3, content: strings.Repeat("a", MaxContentLength), timestamp: ts},
		{name: "content too long", id: id, channelID: 3, content: strings.Repeat("a", MaxContentLength+1), timestamp: ts, wantErr: true},
		{name: "timestamp mismatch", id: id, channelID: 3, content: "x", timestamp: ts + 1, wantErr: true},
		{name: "zero channel", id: id, channelID: 0, content: "x", timestamp: ts, wantErr: true},
		{name: "zero timestamp", id: 5, channelID: 3, content: "x", timestamp: 0, wantErr: true},
		{name: "negative id", id: -1, channelID: 3, content: "x", timestamp: ts, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewMessage(tt.id, tt.channelID, tt.content, nil, author, tt.timestamp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestNewChannel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		chName  string
		guildID int64
		wantErr bool
	}{
		{name: "valid", chName: "general", guildID: 1},
		{name: "uppercase", chName: "General", guildID: 1, wantErr: true},
		{name: "too short", chName: "ab", guildID: 1, wantErr: true},
		{name: "too long", chName: strings.Repeat("a", 21), guildID: 1, wantErr: true},
		{name: "no guild", chName: "general", guildID: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewChannel(10, tt.chName, ChannelText, tt.guildID)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewChannel() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewAttachment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		aType   AttachmentType
		width   int
		height  int
		size    int64
		wantErr bool
	}{
		{name: "image", aType: AttachmentImage, width: 640, height: 480, size: 1024},
		{name: "image without size", aType: AttachmentImage, width: 0, height: 480, size: 1024, wantErr: true},
		{name: "image too wide", aType: AttachmentImage, width: MaxAttachmentWidth + 1, height: 1, size: 1, wantErr: true},
		{name: "other", aType: AttachmentOther, size: 10},
		{name: "other with dimensions", aType: AttachmentOther, width: 1, height: 1, size: 10, wantErr: true},
		{name: "empty", aType: AttachmentOther, size: 0, wantErr: true},
		{name: "too large", aType: AttachmentOther, size: MaxAttachmentSize + 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewAttachment(1, "file.png", tt.aType, tt.width, tt.height, tt.size)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAttachment() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUserAndGuildValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewUser(1, "bob", "#00ff00"); err != nil {
		t.Errorf("NewUser() unexpected error: %v", err)
	}
	if _, err := NewUser(1, "bob", "green"); err == nil {
		t.Error("NewUser() accepted a non-hex color")
	}
	if _, err := NewUser(1, "b", "#00ff00"); err == nil {
		t.Error("NewUser() accepted a short username")
	}
	if _, err := NewGuild(1, "my guild", 0); err == nil {
		t.Error("NewGuild() accepted owner id 0")
	}
	if _, err := NewGuild(1, "my guild", 2); err != nil {
		t.Errorf("NewGuild() unexpected error: %v", err)
	}
}
