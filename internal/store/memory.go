package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"telecom-platform/internal/calltrack"
	"telecom-platform/internal/packets"
)

// Memory is an in-memory Store, useful for tests and local development. It
// is not durable across restarts.
//
// Locking model: one mutex per call_id, held for the duration of
// WithCallLock, mirroring the row-level exclusive lock a relational store
// would take with SELECT ... FOR UPDATE. Different call_ids never block
// each other.
type Memory struct {
	mu    sync.Mutex // guards the calls/locks maps themselves, not call state
	calls map[string]*calltrack.Call
	locks map[string]*sync.Mutex

	packetsMu sync.Mutex
	packets   map[string][]packets.Packet // callID -> ordered by insertion order of accepted packets
	seen      map[string]map[int]bool     // callID -> set of inserted sequences

	clock func() time.Time
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		calls:   make(map[string]*calltrack.Call),
		locks:   make(map[string]*sync.Mutex),
		packets: make(map[string][]packets.Packet),
		seen:    make(map[string]map[int]bool),
		clock:   time.Now,
	}
}

func (m *Memory) lockFor(callID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[callID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[callID] = l
	}
	return l
}

func (m *Memory) WithCallLock(ctx context.Context, callID string, fn CallMutator) (any, error) {
	lock := m.lockFor(callID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	call, existed := m.calls[callID]
	m.mu.Unlock()

	if !existed {
		call = calltrack.NewCall(callID, m.clock())
	}
	// Hand the mutator a copy so a returned nil (no persist) never leaks a
	// partially mutated pointer back into the store.
	working := *call
	if call.Missing != nil {
		working.Missing = append([]int(nil), call.Missing...)
	}

	toSave, result, err := fn(ctx, &working)
	if err != nil {
		return nil, err
	}
	if toSave != nil {
		m.mu.Lock()
		m.calls[callID] = toSave
		m.mu.Unlock()
	} else if !existed {
		// fn declined to save but the call didn't exist yet: create_if_absent
		// semantics still require the row to exist afterward.
		m.mu.Lock()
		m.calls[callID] = &working
		m.mu.Unlock()
	}
	return result, nil
}

func (m *Memory) InsertPacket(ctx context.Context, p packets.Packet) error {
	m.packetsMu.Lock()
	defer m.packetsMu.Unlock()

	set, ok := m.seen[p.CallID]
	if !ok {
		set = make(map[int]bool)
		m.seen[p.CallID] = set
	}
	if set[p.Sequence] {
		return ErrDuplicatePacket
	}
	set[p.Sequence] = true

	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = m.clock()
	}
	m.packets[p.CallID] = append(m.packets[p.CallID], p)
	return nil
}

func (m *Memory) ListPacketsOrdered(ctx context.Context, callID string) ([]packets.Packet, error) {
	m.packetsMu.Lock()
	defer m.packetsMu.Unlock()

	out := append([]packets.Packet(nil), m.packets[callID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
