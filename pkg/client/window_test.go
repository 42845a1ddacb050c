package client

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/lytecord/pkg/model"
)

type fakeSource struct {
	mu         sync.Mutex
	history    map[int64][]model.Message
	calls      []string
	subscribed map[uint32]int64
	nextID     uint32
	onMessage  func(model.Message)
	fetches    chan int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		history:    make(map[int64][]model.Message),
		subscribed: make(map[uint32]int64),
		fetches:    make(chan int64, 16),
	}
}

func (s *fakeSource) add(channelID int64, ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.history[channelID] = append(s.history[channelID], model.Message{ID: id, ChannelID: channelID})
	}
	list := s.history[channelID]
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
}

func (s *fakeSource) Messages(_ context.Context, channelID, before int64, count int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "messages")

	var out []model.Message
	for _, m := range s.history[channelID] {
		if before != 0 && m.ID >= before {
			continue
		}
		if len(out) == count {
			break
		}
		out = append(out, m)
	}
	select {
	case s.fetches <- before:
	default:
	}
	return out, nil
}

func (s *fakeSource) Subscribe(_ context.Context, channelID, _ int64, onMessage func(model.Message)) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "subscribe")
	s.nextID++
	s.subscribed[s.nextID] = channelID
	s.onMessage = onMessage
	return s.nextID, nil
}

func (s *fakeSource) Unsubscribe(_ context.Context, id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "unsubscribe")
	delete(s.subscribed, id)
	return nil
}

func (s *fakeSource) SendMessage(_ context.Context, content string, _ *model.Attachment) (model.Message, error) {
	return model.Message{ID: 1000, ChannelID: 7, Content: content}, nil
}

func (s *fakeSource) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func ids(msgs []model.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equal(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newTestWindow(t *testing.T, src *fakeSource, channelID int64) *Window {
	t.Helper()
	w := NewWindow(src, zerolog.Nop())
	if err := w.SetChannel(context.Background(), channelID); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	return w
}

func TestWindowPagination(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.add(7, 100, 90, 80, 70, 60)
	w := newTestWindow(t, src, 7)

	tests := []struct {
		name   string
		id     int64
		before bool
		count  int
		want   []int64
	}{
		{name: "older than 80", id: 80, before: true, count: 2, want: []int64{70, 60}},
		{name: "newer than 80", id: 80, before: false, count: 2, want: []int64{100, 90}},
		{name: "newest", id: 0, count: 2, want: []int64{100, 90}},
		{name: "newest ignores before", id: 0, before: true, count: 2, want: []int64{100, 90}},
		{name: "nearest older", id: 95, before: true, count: 2, want: []int64{90, 80}},
		{name: "nearest newer", id: 65, before: false, count: 2, want: []int64{80, 70}},
		{name: "nothing newer", id: 100, before: false, count: 2, want: nil},
		{name: "nothing older", id: 60, before: true, count: 2, want: nil},
		{name: "zero count", id: 0, count: 0, want: nil},
	}

	for _, tt := range tests {
		if got := ids(w.Messages(tt.id, tt.before, tt.count)); !equal(got, tt.want) {
			t.Errorf("%s: Messages(%d, %v, %d) = %v, want %v", tt.name, tt.id, tt.before, tt.count, got, tt.want)
		}
	}
}

func TestWindowFetchesOlderPages(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	w := NewWindow(src, zerolog.Nop())
	w.pageSize = 3
	src.add(7, 100, 90, 80, 70, 60)

	if err := w.SetChannel(context.Background(), 7); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	<-src.fetches
	if got := ids(w.Messages(0, false, 10)); !equal(got, []int64{100, 90, 80}) {
		t.Fatalf("first page = %v", got)
	}

	// Reading near the oldest cached message loads the next page
	w.Messages(90, true, 2)
	select {
	case before := <-src.fetches:
		if before != 80 {
			t.Errorf("fetched before %d, want 80", before)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no background fetch")
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.Len() != 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := ids(w.Messages(0, false, 10)); !equal(got, []int64{100, 90, 80, 70, 60}) {
		t.Fatalf("after fetch = %v", got)
	}

	if err := w.FetchMessages(context.Background(), 60, 3); err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if !w.Top() {
		t.Error("empty page did not mark the top")
	}
}

func TestWindowSetChannelOrder(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.add(7, 10)
	w := newTestWindow(t, src, 7)

	if got := src.callLog(); len(got) != 2 || got[0] != "messages" || got[1] != "subscribe" {
		t.Fatalf("calls = %v, want messages then subscribe", got)
	}

	// Same channel is a no-op
	if err := w.SetChannel(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if n := len(src.callLog()); n != 2 {
		t.Errorf("SetChannel on the same channel made %d calls", n-2)
	}

	if err := w.SetChannel(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if got := src.callLog(); got[len(got)-1] != "unsubscribe" {
		t.Errorf("calls = %v, want a trailing unsubscribe", got)
	}
	if w.Len() != 0 {
		t.Errorf("window kept %d messages after clearing the channel", w.Len())
	}
}

func TestWindowInsert(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.add(7, 30, 10)
	w := newTestWindow(t, src, 7)

	var seen []int64
	w.OnMessage = func(m model.Message) { seen = append(seen, m.ID) }

	w.NewMessage(model.Message{ID: 20, ChannelID: 7})
	w.NewMessage(model.Message{ID: 20, ChannelID: 7})
	w.NewMessage(model.Message{ID: 50, ChannelID: 8})

	if got := ids(w.Messages(0, false, 10)); !equal(got, []int64{30, 20, 10}) {
		t.Errorf("window = %v, want [30 20 10]", got)
	}
	if !equal(seen, []int64{20}) {
		t.Errorf("OnMessage saw %v, want [20]", seen)
	}

	msg, err := w.SendMessage(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := w.Messages(0, false, 1); len(got) != 1 || got[0].ID != msg.ID {
		t.Errorf("sent message not at the bottom: %v", ids(got))
	}
}

func TestWindowEvictsOldestOnLiveInsert(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.add(7, 3, 2, 1)
	w := NewWindow(src, zerolog.Nop())
	w.size = 3
	if err := w.SetChannel(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if err := w.FetchMessages(context.Background(), 1, 3); err != nil {
		t.Fatal(err)
	}
	if !w.Top() {
		t.Fatal("expected top after an empty page")
	}

	w.Insert(model.Message{ID: 4, ChannelID: 7})
	if got := ids(w.Messages(0, false, 10)); !equal(got, []int64{4, 3, 2}) {
		t.Errorf("window = %v, want [4 3 2]", got)
	}
	if w.Top() {
		t.Error("top still set after evicting the oldest message")
	}
}

func TestWindowReloadsStaleBottom(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.add(7, 100, 90, 80, 70, 60, 50, 40)
	w := NewWindow(src, zerolog.Nop())
	w.size = 4
	w.pageSize = 3

	if err := w.SetChannel(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if err := w.FetchMessages(context.Background(), 80, 3); err != nil {
		t.Fatal(err)
	}
	<-src.fetches
	<-src.fetches
	if got := ids(w.Messages(0, false, 10)); !equal(got, []int64{80, 70, 60, 50}) {
		t.Fatalf("after scrolling back = %v, want [80 70 60 50]", got)
	}

	// Live messages are held back while the bottom is evicted
	w.NewMessage(model.Message{ID: 110, ChannelID: 7})
	if w.Len() != 4 {
		t.Fatalf("stale window took a live message, len %d", w.Len())
	}

	// Reading forward from the newest cached message reloads the bottom
	if got := w.Messages(80, false, 2); len(got) != 0 {
		t.Errorf("Messages(80, false, 2) = %v, want none cached", ids(got))
	}
	select {
	case before := <-src.fetches:
		if before != 0 {
			t.Errorf("reload fetched before %d, want the newest page", before)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload of the newest page")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := w.Messages(0, false, 1); len(got) == 1 && got[0].ID == 100 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := ids(w.Messages(0, false, 10)); !equal(got, []int64{100, 90, 80}) {
		t.Fatalf("after reload = %v, want [100 90 80]", got)
	}

	w.NewMessage(model.Message{ID: 120, ChannelID: 7})
	if got := w.Messages(0, false, 1); len(got) != 1 || got[0].ID != 120 {
		t.Errorf("live message after reload not at the bottom: %v", ids(got))
	}
}
