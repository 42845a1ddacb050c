package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RequestType is the dispatch key carried on the wire as a string literal.
type RequestType string

const (
	Authenticate        RequestType = "Authenticate"
	Register            RequestType = "Register"
	Unauthorized        RequestType = "Unauthorized"
	Error               RequestType = "Error"
	SendMessage         RequestType = "SendMessage"
	ChannelSubscription RequestType = "ChannelSubscription"
	GetGuilds           RequestType = "GetGuilds"
	GetChannels         RequestType = "GetChannels"
	GetMessages         RequestType = "GetMessages"
	GetAsset            RequestType = "GetAsset"
	CreateGuild         RequestType = "CreateGuild"
	CreateChannel       RequestType = "CreateChannel"
	GetJoinCode         RequestType = "GetJoinCode"
	RefreshJoinCode     RequestType = "RefreshJoinCode"
	JoinGuild           RequestType = "JoinGuild"
	GetAttachmentFile   RequestType = "GetAttachmentFile"
	UploadAttachment    RequestType = "UploadAttachment"
)

var knownTypes = map[RequestType]struct{}{
	Authenticate: {}, Register: {}, Unauthorized: {}, Error: {}, SendMessage: {},
	ChannelSubscription: {}, GetGuilds: {}, GetChannels: {}, GetMessages: {}, GetAsset: {},
	CreateGuild: {}, CreateChannel: {}, GetJoinCode: {}, RefreshJoinCode: {}, JoinGuild: {},
	GetAttachmentFile: {}, UploadAttachment: {},
}

// Known reports whether t is one of the request types of the protocol.
func (t RequestType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Request is a typed JSON object payload.
type Request struct {
	Type RequestType
	Data json.RawMessage
}

// NewRequest marshals data, which must encode to a JSON object.
func NewRequest(t RequestType, data any) (Request, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Request{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	if !isObject(raw) {
		return Request{}, fmt.Errorf("%s payload must be a JSON object", t)
	}
	return Request{Type: t, Data: raw}, nil
}

// Decode unmarshals the payload into v.
func (r Request) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

func (r Request) String() string {
	return fmt.Sprintf("Request(%s, %s)", r.Type, r.Data)
}

func isObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) >= 2 && raw[0] == '{' && json.Valid(raw)
}
