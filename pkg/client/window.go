package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/lytecord/pkg/model"
)

const (
	DefaultWindowSize = 300
	DefaultPageSize   = 100
	// fetchThreshold is how close to the oldest cached message a read may get
	// before the next page is fetched.
	fetchThreshold = 30
	fetchTimeout   = 10 * time.Second
)

// MessageSource is what a Window pages messages from. *Client implements it.
type MessageSource interface {
	Messages(ctx context.Context, channelID, before int64, count int) ([]model.Message, error)
	Subscribe(ctx context.Context, channelID, lastMessageID int64, onMessage func(model.Message)) (uint32, error)
	Unsubscribe(ctx context.Context, id uint32) error
	SendMessage(ctx context.Context, content string, attachment *model.Attachment) (model.Message, error)
}

// Window caches the messages of the channel being viewed, newest first and
// without duplicates. It holds at most size messages: live messages evict the
// oldest ones, scrolling back evicts the newest ones.
type Window struct {
	src      MessageSource
	size     int
	pageSize int
	log      zerolog.Logger

	// OnMessage is called for every message that enters the window live.
	OnMessage func(model.Message)

	mu        sync.Mutex
	channelID int64
	subID     uint32
	messages  []model.Message
	top       bool
	// stale means newer messages were evicted and the bottom must be reloaded
	stale    bool
	fetching bool
}

func NewWindow(src MessageSource, log zerolog.Logger) *Window {
	return &Window{
		src:      src,
		size:     DefaultWindowSize,
		pageSize: DefaultPageSize,
		log:      log,
	}
}

func (w *Window) ChannelID() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.channelID
}

// Top reports whether the whole history of the channel is cached.
func (w *Window) Top() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.top
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

// SetChannel switches the window to channelID, or to no channel when it is
// zero. It loads the newest page and only then subscribes, so no live message
// arrives before the history it follows.
func (w *Window) SetChannel(ctx context.Context, channelID int64) error {
	w.mu.Lock()
	if channelID == w.channelID {
		w.mu.Unlock()
		return nil
	}
	prev := w.subID
	w.reset(channelID)
	w.mu.Unlock()

	if prev != 0 {
		if err := w.src.Unsubscribe(ctx, prev); err != nil {
			w.log.Warn().Err(err).Uint32("subscription_id", prev).Msg("unsubscribe failed")
		}
	}
	if channelID == 0 {
		return nil
	}

	if err := w.FetchMessages(ctx, 0, w.pageSize); err != nil {
		return err
	}

	w.mu.Lock()
	var last int64
	if len(w.messages) > 0 {
		last = w.messages[0].ID
	}
	w.mu.Unlock()

	id, err := w.src.Subscribe(ctx, channelID, last, w.NewMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.channelID != channelID {
		// Switched away while subscribing
		go w.unsubscribe(id)
		return nil
	}
	w.subID = id
	return nil
}

func (w *Window) reset(channelID int64) {
	w.channelID = channelID
	w.subID = 0
	w.messages = nil
	w.top = false
	w.stale = false
}

func (w *Window) unsubscribe(id uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	if err := w.src.Unsubscribe(ctx, id); err != nil {
		w.log.Warn().Err(err).Uint32("subscription_id", id).Msg("unsubscribe failed")
	}
}

// FetchMessages loads up to count messages older than fromID, or the newest
// page when fromID is zero. An empty page marks the top of the history.
func (w *Window) FetchMessages(ctx context.Context, fromID int64, count int) error {
	w.mu.Lock()
	channelID := w.channelID
	w.mu.Unlock()
	if channelID == 0 {
		return nil
	}

	page, err := w.src.Messages(ctx, channelID, fromID, count)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.channelID != channelID {
		return nil
	}
	if len(page) == 0 {
		w.top = true
		return nil
	}
	for _, msg := range page {
		w.insert(msg)
	}
	if n := len(w.messages); n > w.size {
		// Growing backwards drops the newest end
		w.messages = w.messages[n-w.size:]
		w.messages = append([]model.Message(nil), w.messages...)
		w.stale = true
	}
	return nil
}

// Messages pages through the window.
//
// A zero id returns the newest count messages. With before set it returns the
// count messages just older than id, fetching the next page in the background
// when the read gets close to the oldest cached message. Otherwise it returns
// the count messages just newer than id, oldest of them last.
func (w *Window) Messages(id int64, before bool, count int) []model.Message {
	if count <= 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.messages) == 0 {
		return nil
	}
	if id == 0 {
		return clone(w.messages[:min(count, len(w.messages))])
	}

	if !before {
		// First message not newer than id
		i := sort.Search(len(w.messages), func(i int) bool { return w.messages[i].ID <= id })
		start := max(i-count, 0)
		if start == 0 && w.stale {
			// Reached the evicted bottom, even when nothing newer is cached
			w.reloadLocked()
		}
		return clone(w.messages[start:i])
	}

	var (
		res []model.Message
		end int
	)
	if oldest := w.messages[len(w.messages)-1].ID; oldest < id {
		i := sort.Search(len(w.messages), func(i int) bool { return w.messages[i].ID < id })
		end = min(i+count, len(w.messages))
		res = clone(w.messages[i:end])
	} else {
		end = len(w.messages)
	}

	if !w.top && (len(w.messages)-end < fetchThreshold || len(res) == 0) {
		w.fetchOlderLocked()
	}
	return res
}

// Insert adds msg in order. It returns false when msg is already cached or
// belongs to another channel.
func (w *Window) Insert(msg model.Message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if msg.ChannelID != w.channelID {
		return false
	}
	if w.stale {
		// The bottom is reloaded from the server once the reader gets there
		return true
	}
	if !w.insert(msg) {
		return false
	}
	if n := len(w.messages); n > w.size {
		w.messages = w.messages[:w.size]
		w.top = false
	}
	return true
}

func (w *Window) insert(msg model.Message) bool {
	i := sort.Search(len(w.messages), func(i int) bool { return w.messages[i].ID <= msg.ID })
	if i < len(w.messages) && w.messages[i].ID == msg.ID {
		return false
	}
	w.messages = append(w.messages, model.Message{})
	copy(w.messages[i+1:], w.messages[i:])
	w.messages[i] = msg
	return true
}

// NewMessage takes a live message into the window and reports it to
// OnMessage.
func (w *Window) NewMessage(msg model.Message) {
	if !w.Insert(msg) {
		return
	}
	if w.OnMessage != nil {
		w.OnMessage(msg)
	}
}

// SendMessage sends to the current channel. The server does not echo a
// message to its author, so the stored copy goes through NewMessage here.
func (w *Window) SendMessage(ctx context.Context, content string, attachment *model.Attachment) (model.Message, error) {
	msg, err := w.src.SendMessage(ctx, content, attachment)
	if err != nil {
		return model.Message{}, err
	}
	w.NewMessage(msg)
	return msg, nil
}

func (w *Window) fetchOlderLocked() {
	if w.fetching {
		return
	}
	w.fetching = true
	oldest := w.messages[len(w.messages)-1].ID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		if err := w.FetchMessages(ctx, oldest, w.pageSize); err != nil {
			w.log.Warn().Err(err).Int64("before", oldest).Msg("fetch older messages failed")
		}
		w.mu.Lock()
		w.fetching = false
		w.mu.Unlock()
	}()
}

// reloadLocked replaces the window with the newest page once the reader
// scrolls back to an evicted bottom.
func (w *Window) reloadLocked() {
	if w.fetching {
		return
	}
	w.fetching = true
	channelID := w.channelID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		page, err := w.src.Messages(ctx, channelID, 0, w.pageSize)

		w.mu.Lock()
		defer w.mu.Unlock()
		w.fetching = false
		if err != nil {
			w.log.Warn().Err(err).Msg("reload newest messages failed")
			return
		}
		if w.channelID != channelID {
			return
		}
		w.messages = nil
		w.top = false
		for _, msg := range page {
			w.insert(msg)
		}
		w.stale = false
	}()
}

func clone(msgs []model.Message) []model.Message {
	return append([]model.Message(nil), msgs...)
}
