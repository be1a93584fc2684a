package messaging

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

func TestDispatcher_PreservesPerSenderOrder(t *testing.T) {
	var mu sync.Mutex
	got := map[string][]string{}
	h := HandlerFunc(func(ctx context.Context, msg models.InboundMessage) {
		mu.Lock()
		got[msg.From] = append(got[msg.From], msg.Body)
		mu.Unlock()
	})

	in := make(chan models.InboundMessage)
	done := make(chan struct{})
	go func() {
		NewDispatcher(h, 4).Run(context.Background(), in)
		close(done)
	}()

	senders := []string{"a", "b", "c", "d", "e"}
	for i := 0; i < 50; i++ {
		for _, s := range senders {
			in <- models.InboundMessage{From: s, Body: fmt.Sprint(i)}
		}
	}
	close(in)
	<-done

	for _, s := range senders {
		msgs := got[s]
		if len(msgs) != 50 {
			t.Fatalf("sender %s: got %d messages", s, len(msgs))
		}
		for i, b := range msgs {
			if b != fmt.Sprint(i) {
				t.Fatalf("sender %s: message %d out of order: %s", s, i, b)
			}
		}
	}
}

func TestDispatcher_SameSenderSameShard(t *testing.T) {
	d := NewDispatcher(HandlerFunc(func(context.Context, models.InboundMessage) {}), 8)
	if d.shard("5566@s.whatsapp.net") != d.shard("5566@s.whatsapp.net") {
		t.Error("shard must be stable")
	}
	if NewDispatcher(nil, 0).workers != DefaultWorkers {
		t.Error("non-positive workers should use the default")
	}
}

func TestDispatcher_RecoversFromPanic(t *testing.T) {
	var mu sync.Mutex
	var handled []string
	h := HandlerFunc(func(ctx context.Context, msg models.InboundMessage) {
		if msg.Body == "boom" {
			panic("bad message")
		}
		mu.Lock()
		handled = append(handled, msg.Body)
		mu.Unlock()
	})
	in := make(chan models.InboundMessage, 2)
	in <- models.InboundMessage{From: "x", Body: "boom"}
	in <- models.InboundMessage{From: "x", Body: "ok"}
	close(in)
	NewDispatcher(h, 1).Run(context.Background(), in)
	if len(handled) != 1 || handled[0] != "ok" {
		t.Errorf("handled = %v", handled)
	}
}

func TestDispatcher_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan models.InboundMessage)
	done := make(chan struct{})
	go func() {
		NewDispatcher(HandlerFunc(func(context.Context, models.InboundMessage) {}), 2).Run(ctx, in)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
