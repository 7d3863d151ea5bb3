package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSendReceive(t *testing.T) {
	l := NewInMemoryLayer()
	ctx := context.Background()

	if err := l.Send(ctx, "chat", Message{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if err := l.Send(ctx, "chat", Message{"n": 2}); err != nil {
		t.Fatal(err)
	}
	for want := 1; want <= 2; want++ {
		msg, err := l.Receive(ctx, "chat")
		if err != nil {
			t.Fatal(err)
		}
		if msg["n"] != want {
			t.Errorf("got %v, want n=%d", msg, want)
		}
	}
}

func TestReceiveCancelled(t *testing.T) {
	l := NewInMemoryLayer()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Receive(ctx, "idle"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestCapacity(t *testing.T) {
	l := NewInMemoryLayer(WithCapacity(1))
	ctx := context.Background()
	if err := l.Send(ctx, "c", Message{}); err != nil {
		t.Fatal(err)
	}
	if err := l.Send(ctx, "c", Message{}); !errors.Is(err, ErrChannelFull) {
		t.Errorf("err = %v, want ErrChannelFull", err)
	}
}

func TestExpiredMessagesSkipped(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewInMemoryLayer(WithExpiry(time.Second), WithLayerClock(func() time.Time { return now }))
	ctx := context.Background()

	_ = l.Send(ctx, "c", Message{"v": "old"})
	now = now.Add(2 * time.Second)
	_ = l.Send(ctx, "c", Message{"v": "new"})

	msg, err := l.Receive(ctx, "c")
	if err != nil || msg["v"] != "new" {
		t.Errorf("Receive = %v, %v", msg, err)
	}
}

func TestGroupFanOut(t *testing.T) {
	l := NewInMemoryLayer()
	ctx := context.Background()
	a, b := l.NewChannel("a"), l.NewChannel("b")
	if a == b || !ValidName(a) {
		t.Fatalf("bad channel names %q %q", a, b)
	}
	_ = l.GroupAdd(ctx, "g", a)
	_ = l.GroupAdd(ctx, "g", b)

	if err := l.GroupSend(ctx, "g", Message{"text": "x"}); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []string{a, b} {
		msg, err := l.Receive(ctx, ch)
		if err != nil || msg["text"] != "x" {
			t.Errorf("%s: %v, %v", ch, msg, err)
		}
	}

	_ = l.GroupDiscard(ctx, "g", b)
	_ = l.GroupSend(ctx, "g", Message{"text": "y"})
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Receive(short, b); err == nil {
		t.Error("discarded channel still received a group message")
	}
}

func TestGroupExpiry(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewInMemoryLayer(WithGroupExpiry(time.Minute), WithLayerClock(func() time.Time { return now }))
	ctx := context.Background()
	_ = l.GroupAdd(ctx, "g", "c")
	now = now.Add(time.Hour)
	if got := l.members("g"); len(got) != 0 {
		t.Errorf("members = %v, want none", got)
	}
	if n := l.mailboxes(); n != 0 {
		t.Errorf("%d mailboxes kept after membership expired", n)
	}
}

func TestMailboxesReleasedAfterUnmount(t *testing.T) {
	l := NewInMemoryLayer()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		ch := l.NewChannel("mount")
		if err := l.GroupAdd(ctx, "room", ch); err != nil {
			t.Fatal(err)
		}
		recvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = l.Receive(recvCtx, ch)
		}()
		cancel()
		<-done
		if err := l.GroupDiscard(ctx, "room", ch); err != nil {
			t.Fatal(err)
		}
	}
	if n := l.mailboxes(); n != 0 {
		t.Errorf("%d mailboxes kept after every mount left", n)
	}
}

func TestMailboxKeptWhileReferenced(t *testing.T) {
	l := NewInMemoryLayer()
	ctx := context.Background()
	ch := l.NewChannel("m")
	_ = l.GroupAdd(ctx, "g", ch)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, _ = l.Receive(short, ch)
	if n := l.mailboxes(); n != 1 {
		t.Fatalf("mailboxes = %d, want 1 while the channel is in a group", n)
	}

	// Undelivered messages survive leaving the group.
	_ = l.GroupSend(ctx, "g", Message{"v": 1})
	_ = l.GroupDiscard(ctx, "g", ch)
	msg, err := l.Receive(ctx, ch)
	if err != nil || msg["v"] != 1 {
		t.Fatalf("Receive = %v, %v", msg, err)
	}
	if n := l.mailboxes(); n != 0 {
		t.Errorf("mailboxes = %d after the last message was read", n)
	}
}

func TestExpiredMailboxesSwept(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewInMemoryLayer(WithExpiry(time.Second), WithLayerClock(func() time.Time { return now }))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = l.Send(ctx, l.NewChannel("orphan"), Message{})
	}
	if n := l.mailboxes(); n != 5 {
		t.Fatalf("mailboxes = %d, want 5", n)
	}
	now = now.Add(2 * time.Second)
	l.NewChannel("next")
	if n := l.mailboxes(); n != 0 {
		t.Errorf("mailboxes = %d after messages expired", n)
	}
}

func TestCompetingReceivers(t *testing.T) {
	l := NewInMemoryLayer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	got := 0
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := l.Receive(ctx, "work"); err != nil {
					return
				}
				mu.Lock()
				got++
				mu.Unlock()
			}
		}()
	}
	for i := 0; i < 10; i++ {
		_ = l.Send(ctx, "work", Message{"i": i})
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := got
		mu.Unlock()
		if n == 10 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()
	if got != 10 {
		t.Errorf("delivered %d messages, want exactly 10", got)
	}
}

func TestInvalidNames(t *testing.T) {
	l := NewInMemoryLayer()
	if err := l.Send(context.Background(), "has space", Message{}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("err = %v", err)
	}
	if ValidName("") || ValidName("a!b!c") {
		t.Error("ValidName accepted an invalid name")
	}
}

func TestLayers(t *testing.T) {
	ls := NewLayers()
	if _, err := ls.Get(DefaultLayer); err != nil {
		t.Fatal(err)
	}
	if _, err := ls.Get("redis"); !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("err = %v", err)
	}
}
