package outbox

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	domoutbox "github.com/noodleworks/orderflow/internal/domain/outbox"
	"github.com/noodleworks/orderflow/internal/observability"
	"github.com/noodleworks/orderflow/internal/observability/logctx"
)

// Bus is an in-memory event bus standing in for the broker: at-least-once
// from the handlers' point of view, no ordering guarantees across or within
// event types. A handler error is redelivered up to maxRedeliveries times,
// which is the system's only recovery path for handler crashes; handlers
// must therefore be idempotent and safe to re-run from the top.
type Bus struct {
	mu              sync.RWMutex
	subs            map[string][]domoutbox.Handler
	queue           chan delivery
	startOnce       sync.Once
	stopOnce        sync.Once
	cancel          context.CancelFunc
	done            chan struct{}
	concurrency     int
	maxRedeliveries int
	redeliveryDelay time.Duration
	handlerTimeout  time.Duration
	log             observability.Logger
	events          observability.Counter
}

type delivery struct {
	event   domoutbox.Event
	attempt int
}

const componentBus = "event_bus"

func NewBus(logger observability.Logger, tel observability.Observability) *Bus {
	if logger == nil {
		logger = observability.NopLogger()
	}
	metrics := observability.NopMetrics()
	if tel != nil {
		metrics = tel.Metrics()
	}
	return &Bus{
		subs:            make(map[string][]domoutbox.Handler),
		queue:           make(chan delivery, 1024),
		done:            make(chan struct{}),
		concurrency:     8,
		maxRedeliveries: 3,
		redeliveryDelay: 50 * time.Millisecond,
		handlerTimeout:  30 * time.Second,
		log:             logger.With(observability.F("component", componentBus)),
		events:          metrics.Counter(observability.MSagaEvents),
	}
}

func (b *Bus) Subscribe(eventName string, h domoutbox.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
		b.cancel = cancel
		go b.dispatchLoop(bg)
		logctx.FromOr(ctx, b.log).Info("event_bus_started")
	})
}

func (b *Bus) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		<-b.done
		logctx.FromOr(ctx, b.log).Info("event_bus_stopped")
	})
}

func (b *Bus) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	select {
	case b.queue <- delivery{event: e, attempt: 1}:
		logctx.FromOr(ctx, b.log).Debug("event_enqueued",
			observability.F("event", e.EventName()),
		)
		return nil
	case <-ctx.Done():
		logctx.FromOr(ctx, b.log).Warn("event_enqueue_aborted",
			observability.F("event", e.EventName()),
			observability.F("error", ctx.Err()),
		)
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-b.queue:
			b.fanout(ctx, d)
		}
	}
}

func (b *Bus) fanout(ctx context.Context, d delivery) {
	name := d.event.EventName()

	b.mu.RLock()
	handlers := append([]domoutbox.Handler(nil), b.subs[name]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug("event_dropped_no_subscriber", observability.F("event", name))
		return
	}

	b.events.Add(1, observability.L("event", name), observability.L("attempt_gt_one", boolLabel(d.attempt > 1)))

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	var failed sync.Once
	redeliver := false

	for _, h := range handlers {
		sem <- struct{}{}
		wg.Add(1)
		go func(h domoutbox.Handler) {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("event_handler_panic",
						observability.F("event", name),
						observability.F("panic", r),
						observability.F("stack", string(debug.Stack())),
					)
					failed.Do(func() { redeliver = true })
				}
				<-sem
				wg.Done()
			}()

			hctx, cancel := context.WithTimeout(ctx, b.handlerTimeout)
			hctx = logctx.With(hctx, b.log.With(observability.F("event", name)))
			err := h(hctx, d.event)
			cancel()
			if err != nil {
				b.log.Warn("event_handler_error",
					observability.F("event", name),
					observability.F("attempt", d.attempt),
					observability.F("error", err),
				)
				failed.Do(func() { redeliver = true })
			}
		}(h)
	}

	wg.Wait()

	if redeliver && d.attempt <= b.maxRedeliveries {
		// crude redelivery: re-run the whole fanout after a delay. Handlers
		// that already succeeded must tolerate the duplicate.
		time.AfterFunc(b.redeliveryDelay*time.Duration(d.attempt), func() {
			select {
			case b.queue <- delivery{event: d.event, attempt: d.attempt + 1}:
			case <-ctx.Done():
			}
		})
		return
	}
	if redeliver {
		b.log.Error("event_redelivery_exhausted",
			observability.F("event", name),
			observability.F("attempts", d.attempt),
		)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
