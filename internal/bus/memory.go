package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus for tests and single-node deployments.
// Subjects are matched exactly (no wildcards — the registry only uses fully
// scoped subjects). A request with no subscriber waits out the caller's
// deadline, mirroring a silent publisher on a real bus.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySub]struct{}
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	handler Handler
}

// Unsubscribe implements Subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if set, ok := s.bus.subs[s.subject]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.bus.subs, s.subject)
		}
	}
	return nil
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memorySub]struct{})}
}

func (b *MemoryBus) handlers(subject string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set := b.subs[subject]
	if len(set) == 0 {
		return nil
	}
	out := make([]Handler, 0, len(set))
	for s := range set {
		out = append(out, s.handler)
	}
	return out
}

// Publish implements Bus.Publish. Delivery is asynchronous, like NATS.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	for _, h := range b.handlers(subject) {
		go h(&Message{Subject: subject, Data: data})
	}
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *MemoryBus) Subscribe(subject string, h Handler) (Subscription, error) {
	sub := &memorySub{bus: b, subject: subject, handler: h}
	b.mu.Lock()
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*memorySub]struct{})
	}
	b.subs[subject][sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Request implements Bus.Request. The first reply wins; later replies (and
// replies arriving after ctx is done) are discarded.
func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	replyCh := make(chan []byte, 1)
	msg := &Message{
		Subject: subject,
		Data:    data,
		reply: func(reply []byte) error {
			select {
			case replyCh <- reply:
			default:
			}
			return nil
		},
	}
	for _, h := range b.handlers(subject) {
		go h(msg)
	}
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Bus.Close.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	b.subs = make(map[string]map[*memorySub]struct{})
	b.mu.Unlock()
}
