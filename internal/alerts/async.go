package alerts

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

type Sender interface {
	Send(ctx context.Context, message string) error
}

// Async queues notifications so a slow chat API never stalls a trading
// handler. Messages beyond the queue capacity are dropped and counted.
type Async struct {
	sender  Sender
	queue   chan string
	dropped atomic.Uint64
	log     *zap.Logger
}

func NewAsync(sender Sender, size int, log *zap.Logger) *Async {
	if size <= 0 {
		size = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Async{sender: sender, queue: make(chan string, size), log: log}
}

func (a *Async) Notify(ctx context.Context, text string) {
	if a == nil || a.sender == nil {
		return
	}
	select {
	case a.queue <- text:
	default:
		if a.dropped.Add(1) == 1 {
			a.log.Warn("alert queue full, dropping messages")
		}
	}
}

func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Run delivers queued messages until ctx ends, then flushes the remainder
// so shutdown notices still go out.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case text := <-a.queue:
			a.send(ctx, text)
		}
	}
}

func (a *Async) drain() {
	for {
		select {
		case text := <-a.queue:
			a.send(context.Background(), text)
		default:
			return
		}
	}
}

func (a *Async) send(ctx context.Context, text string) {
	if err := a.sender.Send(ctx, text); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}
