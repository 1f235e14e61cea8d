// Package registry owns the process-wide tables of transports, producers and
// consumers, indexed by id and by owning client.
//
// Every entry has exactly one owner. Close operations are idempotent and
// safe under the engine's concurrent cascade events: closing an id that was
// already removed is a no-op, and callers learn from the return value
// whether they won the race (and therefore own side effects like the
// producerClosed broadcast).
package registry

import (
	"errors"
	"sync"
	"time"

	"k8s.io/utils/set"

	"github.com/telemeet/sfu/internal/v1/media"
	"github.com/telemeet/sfu/internal/v1/metrics"
)

// Errors reported by registry operations.
var (
	ErrTransportNotFound = errors.New("transport not found")
	ErrTransportClosed   = errors.New("transport closed")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrDuplicateID       = errors.New("duplicate resource id")
)

// Transport is a registered WebRTC transport.
type Transport struct {
	ID        string
	Owner     string
	Direction media.Direction
	Connected bool
	CreatedAt time.Time
}

// Producer is a registered upstream media stream.
type Producer struct {
	ID     string
	Owner  string
	Kind   media.Kind
	Source media.Source
}

// Consumer is a registered downstream media stream, keyed to one producer.
type Consumer struct {
	ID         string
	ProducerID string
	Owner      string
	Kind       media.Kind
}

// ClosedResources summarizes what CloseClient tore down.
type ClosedResources struct {
	Transports []string
	Producers  []Producer
	Consumers  []string
}

// Registry is the process-wide resource table. A single mutex serializes all
// table access; engine calls happen outside the lock.
type Registry struct {
	router media.Router

	mu         sync.Mutex
	transports map[string]*Transport
	producers  map[string]*Producer
	consumers  map[string]*Consumer

	ownerTransports map[string]set.Set[string]
	ownerProducers  map[string]set.Set[string]
	ownerConsumers  map[string]set.Set[string]

	reapTimers map[string]*time.Timer
}

// New creates an empty registry bound to the given media router.
func New(router media.Router) *Registry {
	r := &Registry{
		router:          router,
		transports:      make(map[string]*Transport),
		producers:       make(map[string]*Producer),
		consumers:       make(map[string]*Consumer),
		ownerTransports: make(map[string]set.Set[string]),
		ownerProducers:  make(map[string]set.Set[string]),
		ownerConsumers:  make(map[string]set.Set[string]),
		reapTimers:      make(map[string]*time.Timer),
	}
	return r
}

// --- Transports ---

// PutTransport registers a transport for its owner.
func (r *Registry) PutTransport(t Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transports[t.ID]; exists {
		return ErrDuplicateID
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	r.transports[t.ID] = &t
	ownerSet(r.ownerTransports, t.Owner).Insert(t.ID)
	metrics.ActiveTransports.WithLabelValues(string(t.Direction)).Inc()
	return nil
}

// GetTransport returns a copy of the transport entry.
func (r *Registry) GetTransport(id string) (Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transports[id]
	if !ok {
		return Transport{}, false
	}
	return *t, true
}

// ListClientTransports returns copies of every transport owned by the client.
func (r *Registry) ListClientTransports(clientID string) []Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Transport
	for id := range r.ownerTransports[clientID] {
		if t, ok := r.transports[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// MarkConnected records a successful DTLS connect and drops any pending
// reap timer.
func (r *Registry) MarkConnected(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transports[id]
	if !ok {
		return ErrTransportNotFound
	}
	t.Connected = true
	if timer, ok := r.reapTimers[id]; ok {
		timer.Stop()
		delete(r.reapTimers, id)
	}
	return nil
}

// ArmReaper starts the unconnected-transport timer. When it fires, onReap
// runs if and only if the transport is still registered and unconnected.
func (r *Registry) ArmReaper(id string, timeout time.Duration, onReap func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.transports[id]; !ok {
		return
	}
	r.reapTimers[id] = time.AfterFunc(timeout, func() {
		r.mu.Lock()
		t, ok := r.transports[id]
		connected := ok && t.Connected
		delete(r.reapTimers, id)
		r.mu.Unlock()

		if ok && !connected {
			onReap(id)
		}
	})
}

// CloseTransport removes the transport and closes it in the engine. The
// engine cascade closes dependent producers and consumers; their registry
// entries are removed when those events arrive. Returns the removed entry
// when this call won the race.
func (r *Registry) CloseTransport(id string) (Transport, bool) {
	r.mu.Lock()
	t, ok := r.transports[id]
	if !ok {
		r.mu.Unlock()
		return Transport{}, false
	}
	delete(r.transports, id)
	dropOwner(r.ownerTransports, t.Owner, id)
	if timer, ok := r.reapTimers[id]; ok {
		timer.Stop()
		delete(r.reapTimers, id)
	}
	entry := *t
	r.mu.Unlock()

	metrics.ActiveTransports.WithLabelValues(string(entry.Direction)).Dec()
	r.router.CloseTransport(id)
	return entry, true
}

// --- Producers ---

// PutProducer registers a producer for its owner.
func (r *Registry) PutProducer(p Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.producers[p.ID]; exists {
		return ErrDuplicateID
	}
	r.producers[p.ID] = &p
	ownerSet(r.ownerProducers, p.Owner).Insert(p.ID)
	metrics.ActiveProducers.WithLabelValues(string(p.Source)).Inc()
	return nil
}

// GetProducer returns a copy of the producer entry.
func (r *Registry) GetProducer(id string) (Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.producers[id]
	if !ok {
		return Producer{}, false
	}
	return *p, true
}

// ListProducers returns the view published to a newly-joined client: every
// registered producer whose owner differs from excludeClientID.
func (r *Registry) ListProducers(excludeClientID string) []Producer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Producer
	for _, p := range r.producers {
		if p.Owner == excludeClientID {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// ListClientProducers returns copies of every producer owned by the client.
func (r *Registry) ListClientProducers(clientID string) []Producer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Producer
	for id := range r.ownerProducers[clientID] {
		if p, ok := r.producers[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// CloseProducer removes the producer and closes it in the engine. Returns
// the removed entry when this call won the race; the winner owns the
// producerClosed broadcast.
func (r *Registry) CloseProducer(id string) (Producer, bool) {
	r.mu.Lock()
	p, ok := r.producers[id]
	if !ok {
		r.mu.Unlock()
		return Producer{}, false
	}
	delete(r.producers, id)
	dropOwner(r.ownerProducers, p.Owner, id)
	entry := *p
	r.mu.Unlock()

	metrics.ActiveProducers.WithLabelValues(string(entry.Source)).Dec()
	r.router.CloseProducer(id)
	return entry, true
}

// --- Consumers ---

// PutConsumer registers a consumer. The referenced producer must still be
// registered: if it closed while the consumer was being negotiated, the
// registration fails and the caller must discard the engine-side consumer.
func (r *Registry) PutConsumer(c Consumer) error {
	r.mu.Lock()
	if _, exists := r.consumers[c.ID]; exists {
		r.mu.Unlock()
		return ErrDuplicateID
	}
	if _, ok := r.producers[c.ProducerID]; !ok {
		r.mu.Unlock()
		r.router.CloseConsumer(c.ID)
		return ErrProducerNotFound
	}
	r.consumers[c.ID] = &c
	ownerSet(r.ownerConsumers, c.Owner).Insert(c.ID)
	r.mu.Unlock()

	metrics.ActiveConsumers.Inc()
	return nil
}

// ListClientConsumers returns copies of every consumer owned by the client.
func (r *Registry) ListClientConsumers(clientID string) []Consumer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Consumer
	for id := range r.ownerConsumers[clientID] {
		if c, ok := r.consumers[id]; ok {
			out = append(out, *c)
		}
	}
	return out
}

// CloseConsumer removes the consumer and closes it in the engine.
func (r *Registry) CloseConsumer(id string) bool {
	r.mu.Lock()
	c, ok := r.consumers[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.consumers, id)
	dropOwner(r.ownerConsumers, c.Owner, id)
	r.mu.Unlock()

	metrics.ActiveConsumers.Dec()
	r.router.CloseConsumer(id)
	return true
}

// --- Client cascade ---

// CloseClient tears down every resource owned by the client: transports
// first, then producers (which cascades to remote consumers via engine
// events), then any surviving consumers. Safe to call concurrently with
// cascade events for the same resources.
func (r *Registry) CloseClient(clientID string) ClosedResources {
	var closed ClosedResources

	for _, t := range r.ListClientTransports(clientID) {
		if _, ok := r.CloseTransport(t.ID); ok {
			closed.Transports = append(closed.Transports, t.ID)
		}
	}
	for _, p := range r.ListClientProducers(clientID) {
		if entry, ok := r.CloseProducer(p.ID); ok {
			closed.Producers = append(closed.Producers, entry)
		}
	}
	for _, c := range r.ListClientConsumers(clientID) {
		if r.CloseConsumer(c.ID) {
			closed.Consumers = append(closed.Consumers, c.ID)
		}
	}
	return closed
}

// --- helpers ---

func ownerSet(m map[string]set.Set[string], owner string) set.Set[string] {
	s, ok := m[owner]
	if !ok {
		s = set.New[string]()
		m[owner] = s
	}
	return s
}

func dropOwner(m map[string]set.Set[string], owner, id string) {
	if s, ok := m[owner]; ok {
		s.Delete(id)
		if s.Len() == 0 {
			delete(m, owner)
		}
	}
}
