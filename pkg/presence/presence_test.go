package presence

import (
	"context"
	"reflect"
	"testing"
)

func TestMemoryPresence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	_ = m.Join(ctx, 7, 2)
	_ = m.Join(ctx, 7, 1)
	_ = m.Join(ctx, 7, 1)
	_ = m.Join(ctx, 8, 3)

	if got, _ := m.Members(ctx, 7); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("Members(7) = %v, want [1 2]", got)
	}

	_ = m.Leave(ctx, 7, 1)
	if got, _ := m.Members(ctx, 7); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("Members(7) after one of two leaves = %v, want [1 2]", got)
	}

	_ = m.Leave(ctx, 7, 1)
	_ = m.Leave(ctx, 7, 2)
	if got, _ := m.Members(ctx, 7); len(got) != 0 {
		t.Errorf("Members(7) after all left = %v, want empty", got)
	}
}

func TestChannelKey(t *testing.T) {
	t.Parallel()

	if got := channelKey(42); got != "channel:42:users" {
		t.Errorf("channelKey(42) = %q", got)
	}
}
