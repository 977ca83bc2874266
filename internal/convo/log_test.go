package convo

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"mafiasim/internal/domain"
)

func TestAppendAssignsContiguousSequence(t *testing.T) {
	l := NewLog()
	for i := 0; i < 5; i++ {
		m := l.Append(Candidate{Kind: domain.MessagePlayer, AuthorID: i, Author: "a", Body: "hi"})
		if m.Seq != i+1 {
			t.Fatalf("expected seq %d, got %d", i+1, m.Seq)
		}
	}
}

func TestConcurrentAppendsStayGapFree(t *testing.T) {
	l := NewLog()
	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				l.Append(Candidate{Kind: domain.MessagePlayer, AuthorID: w, Author: fmt.Sprintf("agent-%d", w), Body: "m"})
			}
		}(w)
	}
	wg.Wait()
	msgs := l.Snapshot()
	if len(msgs) != writers*perWriter {
		t.Fatalf("expected %d messages, got %d", writers*perWriter, len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != i+1 {
			t.Fatalf("gap at index %d: seq %d", i, m.Seq)
		}
	}
}

func TestSnapshotIsIsolatedFromLaterAppends(t *testing.T) {
	l := NewLog()
	l.System(1, "start")
	snap := l.Snapshot()
	l.System(1, "later")
	if len(snap) != 1 {
		t.Fatalf("snapshot grew: %d", len(snap))
	}
	snap[0].Body = "mutated"
	if l.Snapshot()[0].Body != "start" {
		t.Fatalf("snapshot mutation leaked into log")
	}
}

func TestSince(t *testing.T) {
	l := NewLog()
	for i := 0; i < 4; i++ {
		l.System(1, "m")
	}
	if got := len(l.Since(0)); got != 4 {
		t.Fatalf("since 0: got %d", got)
	}
	tail := l.Since(2)
	if len(tail) != 2 || tail[0].Seq != 3 {
		t.Fatalf("since 2: %+v", tail)
	}
	if l.Since(9) != nil {
		t.Fatalf("expected nil past end")
	}
}

func TestAppendStampsTimestamp(t *testing.T) {
	l := NewLog()
	l.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	m := l.System(0, "hello")
	if m.CreatedAt != "2025-06-01T12:00:00Z" {
		t.Fatalf("unexpected timestamp %s", m.CreatedAt)
	}
}
