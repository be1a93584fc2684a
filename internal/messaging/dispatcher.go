package messaging

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// DefaultWorkers is the number of dispatch shards used when none is configured.
const DefaultWorkers = 8

// Handler processes one inbound message.
type Handler interface {
	Handle(ctx context.Context, msg models.InboundMessage)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg models.InboundMessage)

func (f HandlerFunc) Handle(ctx context.Context, msg models.InboundMessage) {
	f(ctx, msg)
}

// Dispatcher fans inbound messages out to a fixed set of workers. Messages from
// the same sender always land on the same worker, so each conversation is
// handled one message at a time in arrival order while different customers
// proceed in parallel.
type Dispatcher struct {
	handler Handler
	workers int
}

// NewDispatcher creates a dispatcher with the given number of workers.
func NewDispatcher(h Handler, workers int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{handler: h, workers: workers}
}

// shard returns the worker index for a sender.
func (d *Dispatcher) shard(from string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(from))
	return int(h.Sum32() % uint32(d.workers))
}

// Run reads from in until it is closed or ctx is done, then waits for every
// worker to finish the messages already queued to it.
func (d *Dispatcher) Run(ctx context.Context, in <-chan models.InboundMessage) {
	queues := make([]chan models.InboundMessage, d.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan models.InboundMessage, DefaultChannelBufferSize)
		wg.Add(1)
		go func(q <-chan models.InboundMessage) {
			defer wg.Done()
			for msg := range q {
				d.handle(ctx, msg)
			}
		}(queues[i])
	}
	slog.Info("Dispatcher started", "workers", d.workers)

	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		slog.Info("Dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case queues[d.shard(msg.From)] <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handle runs the handler, turning a panic into a logged error so one bad
// message cannot take down a worker.
func (d *Dispatcher) handle(ctx context.Context, msg models.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher handler panicked", "from", msg.From, "id", msg.ID, "panic", r)
		}
	}()
	d.handler.Handle(ctx, msg)
}
