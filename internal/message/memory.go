package message

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBackend keeps everything in maps. Used by tests and dry runs.
type MemoryBackend struct {
	mu       sync.RWMutex
	messages map[string]*StoredMessage
	order    []string
	msgids   map[string]string
	areas    map[string]*EchoArea
}

// NewMemoryBackend returns an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		messages: make(map[string]*StoredMessage),
		msgids:   make(map[string]string),
		areas:    make(map[string]*EchoArea),
	}
}

func areaKey(domain, tag string) string {
	return strings.ToLower(domain) + ":" + strings.ToUpper(tag)
}

func msgidKey(scope, msgid string) string {
	return scope + "\x00" + msgid
}

func cloneMessage(m *StoredMessage) *StoredMessage {
	c := *m
	c.KludgeLines = append([]string(nil), m.KludgeLines...)
	c.SeenBy = append([]string(nil), m.SeenBy...)
	c.Path = append([]string(nil), m.Path...)
	return &c
}

func (b *MemoryBackend) InsertMessage(_ context.Context, msg *StoredMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[msg.ID] = cloneMessage(msg)
	b.order = append(b.order, msg.ID)
	if msg.MessageID != "" {
		k := msgidKey(msg.Scope(), msg.MessageID)
		if _, exists := b.msgids[k]; !exists {
			b.msgids[k] = msg.ID
		}
	}
	return nil
}

func (b *MemoryBackend) GetMessage(_ context.Context, id string) (*StoredMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (b *MemoryBackend) FindByMSGID(_ context.Context, scope, msgid string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.msgids[msgidKey(scope, msgid)]
	return id, ok, nil
}

func (b *MemoryBackend) UpdateStatus(_ context.Context, id, status string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	if status == StatusSent {
		m.SentAt = at
	}
	return nil
}

func (b *MemoryBackend) ListByStatus(_ context.Context, status string) ([]*StoredMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*StoredMessage
	for _, id := range b.order {
		if m := b.messages[id]; m.Status == status {
			out = append(out, cloneMessage(m))
		}
	}
	return out, nil
}

func (b *MemoryBackend) GetArea(_ context.Context, domain, tag string) (*EchoArea, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.areas[areaKey(domain, tag)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

func (b *MemoryBackend) PutArea(_ context.Context, area *EchoArea) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := *area
	b.areas[areaKey(area.Domain, area.Tag)] = &c
	return nil
}

func (b *MemoryBackend) IncrementAreaCount(_ context.Context, domain, tag string, delta int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.areas[areaKey(domain, tag)]
	if !ok {
		return ErrNotFound
	}
	a.MessageCount += delta
	return nil
}

func (b *MemoryBackend) ListAreas(_ context.Context) ([]EchoArea, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]EchoArea, 0, len(b.areas))
	for _, a := range b.areas {
		out = append(out, *a)
	}
	SortAreas(out)
	return out, nil
}

func (b *MemoryBackend) Close() error { return nil }

// SortAreas orders areas by domain, then tag.
func SortAreas(areas []EchoArea) {
	sort.Slice(areas, func(i, j int) bool {
		if areas[i].Domain != areas[j].Domain {
			return areas[i].Domain < areas[j].Domain
		}
		return areas[i].Tag < areas[j].Tag
	})
}
