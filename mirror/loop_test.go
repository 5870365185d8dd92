package mirror

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func startLoop(t *testing.T, a *Agent, opts ...LoopOption) (*Loop, context.CancelFunc) {
	t.Helper()
	l := NewLoop(a, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, cancel
}

func TestLoop_DeliverInOrder(t *testing.T) {
	a := NewAgent(&fakeRemote{}, WithLogger(slog.New(slog.DiscardHandler)))
	l, _ := startLoop(t, a)
	ctx := context.Background()

	html := Payload{ID: 1, Kind: KindElement, Name: "HTML", Attributes: []string{}}
	msgs := []Message{
		NewMessage(MethodSetDocumentElement, html),
		NewMessage(MethodSetChildNodes, 1, []Payload{}),
	}
	for i := NodeID(2); i < 50; i++ {
		msgs = append(msgs, NewMessage(MethodChildNodeInserted, 1, i-1, el(i, "P", 0)))
	}
	msgs[2] = NewMessage(MethodChildNodeInserted, 1, 0, el(2, "P", 0))
	for _, m := range msgs {
		if err := l.Deliver(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	var count int
	if err := l.Do(ctx, func(a *Agent) {
		kids, _ := a.GetNodeForID(1).Children()
		count = len(kids)
	}); err != nil {
		t.Fatal(err)
	}
	if count != 48 {
		t.Fatalf("children: got %d, want 48", count)
	}
}

func TestLoop_DispatchErrorHook(t *testing.T) {
	a := NewAgent(&fakeRemote{}, WithLogger(slog.New(slog.DiscardHandler)))
	var mu sync.Mutex
	var got []error
	l, _ := startLoop(t, a, WithDispatchErrorHook(func(_ Message, err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	}))
	ctx := context.Background()
	if err := l.Deliver(ctx, NewMessage(MethodCharacterDataModified, 404, "x")); err != nil {
		t.Fatal(err)
	}
	if err := l.Do(ctx, func(*Agent) {}); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	var unknown *ErrUnknownNode
	if len(got) != 1 || !errors.As(got[0], &unknown) {
		t.Fatalf("errors: %v", got)
	}
}

func TestLoop_PostFromInside(t *testing.T) {
	a := NewAgent(&fakeRemote{}, WithLogger(slog.New(slog.DiscardHandler)))
	l, _ := startLoop(t, a, WithInbox(1))
	ctx := context.Background()
	ran := make(chan struct{})
	if err := l.Do(ctx, func(*Agent) {
		for i := 0; i < 10; i++ {
			if err := l.Post(func(*Agent) {}); err != nil {
				t.Errorf("post: %v", err)
			}
		}
		l.Post(func(*Agent) { close(ran) })
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("posted work never ran")
	}
}

func TestLoop_PanicIsContained(t *testing.T) {
	a := NewAgent(&fakeRemote{}, WithLogger(slog.New(slog.DiscardHandler)))
	l, _ := startLoop(t, a)
	ctx := context.Background()
	if err := l.Do(ctx, func(*Agent) { panic("boom") }); err != nil {
		t.Fatal(err)
	}
	if err := l.Do(ctx, func(*Agent) {}); err != nil {
		t.Fatalf("loop dead after panic: %v", err)
	}
}

func TestLoop_ClosedAfterRun(t *testing.T) {
	a := NewAgent(&fakeRemote{}, WithLogger(slog.New(slog.DiscardHandler)))
	l := NewLoop(a)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	if err := l.Deliver(context.Background(), NewMessage(MethodDocumentUpdated)); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("deliver: got %v, want ErrLoopClosed", err)
	}
	if err := l.Post(func(*Agent) {}); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("post: got %v", err)
	}
}

func TestLoop_ExpiresCalls(t *testing.T) {
	var mu sync.Mutex
	var failed []error
	a := NewAgent(&fakeRemote{},
		WithLogger(slog.New(slog.DiscardHandler)),
		WithCallTimeout(20*time.Millisecond),
		WithCallErrorHook(func(_ Method, _ CallID, err error) {
			mu.Lock()
			failed = append(failed, err)
			mu.Unlock()
		}),
	)
	l, _ := startLoop(t, a, WithExpiryInterval(5*time.Millisecond))
	ctx := context.Background()
	if err := l.Do(ctx, func(a *Agent) { a.Document().Node().GetChildren(nil) }); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var pending int
		if err := l.Do(ctx, func(a *Agent) { pending = a.Pending() }); err != nil {
			t.Fatal(err)
		}
		if pending == 0 {
			mu.Lock()
			defer mu.Unlock()
			if len(failed) != 1 || !errors.Is(failed[0], ErrCallTimeout) {
				t.Fatalf("failures: %v", failed)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("call never expired")
}
