package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hamed0406/presencewatch/internal/domain"
)

// Delivery is one message recorded by Memory.
type Delivery struct {
	To        string
	MessageID int
	Edit      bool
	Message   Message
}

// Memory is an in-process Directory. In open mode every reference resolves
// and deliveries are only logged; otherwise only registered destinations and
// users are reachable. It backs development runs and tests.
type Memory struct {
	mu           sync.Mutex
	log          *zap.Logger
	open         bool
	destinations map[string]bool
	users        map[string]bool
	deleted      map[int]bool
	deliveries   []Delivery
	nextID       int
}

func NewMemory() *Memory {
	return &Memory{
		log:          zap.NewNop(),
		destinations: map[string]bool{},
		users:        map[string]bool{},
		deleted:      map[int]bool{},
	}
}

// NewLogDirectory returns an open Memory that logs every delivery.
func NewLogDirectory(log *zap.Logger) *Memory {
	m := NewMemory()
	m.log = log
	m.open = true
	return m
}

func (m *Memory) AddDestination(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destinations[ref] = true
}

func (m *Memory) RemoveDestination(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.destinations, ref)
}

func (m *Memory) AddUser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = true
}

func (m *Memory) RemoveUser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}

// DeleteMessage makes later edits of the message fail.
func (m *Memory) DeleteMessage(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted[id] = true
}

// Deliveries returns recorded deliveries to the recipient, or all of them
// when to is empty.
func (m *Memory) Deliveries(to string) []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Delivery
	for _, d := range m.deliveries {
		if to == "" || d.To == to {
			out = append(out, d)
		}
	}
	return out
}

func (m *Memory) ResolveDestination(ctx context.Context, ref string) (Sink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open && !m.destinations[ref] {
		return nil, fmt.Errorf("destination %s: %w", ref, domain.ErrNotFound)
	}
	return &memorySink{m: m, to: DestinationKey(ref), reachable: func() bool { return m.open || m.destinations[ref] }}, nil
}

func (m *Memory) ResolveUser(ctx context.Context, id string) (Sink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open && !m.users[id] {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return &memorySink{m: m, to: UserKey(id), reachable: func() bool { return m.open || m.users[id] }}, nil
}

// Recipient keys used in Delivery.To.
func DestinationKey(ref string) string { return "dest:" + ref }
func UserKey(id string) string         { return "user:" + id }

type memorySink struct {
	m         *Memory
	to        string
	reachable func() bool // called with m.mu held
}

func (s *memorySink) Send(ctx context.Context, msg Message) (Handle, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if !s.reachable() {
		return nil, fmt.Errorf("%s: %w", s.to, domain.ErrNotFound)
	}
	m.nextID++
	m.record(Delivery{To: s.to, MessageID: m.nextID, Message: msg})
	return &memoryHandle{sink: s, id: m.nextID}, nil
}

type memoryHandle struct {
	sink *memorySink
	id   int
}

func (h *memoryHandle) Edit(ctx context.Context, msg Message) (Handle, error) {
	m := h.sink.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleted[h.id] || !h.sink.reachable() {
		return nil, fmt.Errorf("message %d: %w", h.id, domain.ErrNotFound)
	}
	m.record(Delivery{To: h.sink.to, MessageID: h.id, Edit: true, Message: msg})
	return h, nil
}

func (m *Memory) record(d Delivery) {
	m.deliveries = append(m.deliveries, d)
	m.log.Info("notification",
		zap.String("to", d.To),
		zap.Int("message_id", d.MessageID),
		zap.Bool("edit", d.Edit),
		zap.String("kind", string(d.Message.Kind)),
		zap.String("text", d.Message.Text),
	)
}
