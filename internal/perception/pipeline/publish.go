package pipeline

import (
	"sync"

	"github.com/banshee-data/deviation.report/internal/perception/deviation"
)

// subscriber is one fan-out consumer of evaluation snapshots.
type subscriber struct {
	ch      chan deviation.Snapshot
	dropped uint64
}

// publisher fans evaluation snapshots out to subscribers over bounded
// channels. A slow consumer loses its oldest pending snapshot rather than
// stalling the ingest tick.
type publisher struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

func newPublisher() *publisher {
	return &publisher{subs: make(map[int]*subscriber)}
}

func (p *publisher) subscribe(buffer int) (int, <-chan deviation.Snapshot) {
	if buffer <= 0 {
		buffer = 16
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	sub := &subscriber{ch: make(chan deviation.Snapshot, buffer)}
	p.subs[id] = sub
	return id, sub.ch
}

func (p *publisher) unsubscribe(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sub, ok := p.subs[id]; ok {
		delete(p.subs, id)
		close(sub.ch)
	}
}

func (p *publisher) publish(snap deviation.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, sub := range p.subs {
		select {
		case sub.ch <- snap:
			continue
		default:
		}

		// Full: evict the oldest pending snapshot and retry once.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- snap:
		default:
		}

		sub.dropped++
		if sub.dropped%100 == 1 {
			diagf("subscriber %d lagging: %d snapshots dropped", id, sub.dropped)
		}
	}
}

func (p *publisher) subscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Subscribe registers a snapshot consumer and returns its id and receive
// channel. Every evaluated tick is delivered; slow consumers lose oldest
// snapshots first. The channel closes on Unsubscribe.
func (r *Runtime) Subscribe(buffer int) (int, <-chan deviation.Snapshot) {
	return r.pub.subscribe(buffer)
}

// Unsubscribe removes a consumer and closes its channel.
func (r *Runtime) Unsubscribe(id int) {
	r.pub.unsubscribe(id)
}
