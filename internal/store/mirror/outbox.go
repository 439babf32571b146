package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/xid"
)

// OutboxEntry is one write applied locally while the remote service was unreachable.
type OutboxEntry struct {
	ID         string           `json:"id"`
	Collection store.Collection `json:"collection"`
	Op         string           `json:"op"`
	Payload    json.RawMessage  `json:"payload"`
	QueuedAt   time.Time        `json:"queued_at"`
}

func (s *Store) outbox(ctx context.Context) ([]OutboxEntry, error) {
	return load[[]OutboxEntry](ctx, s, keyOutbox, nil)
}

// Enqueue appends a pending write in arrival order.
func (s *Store) Enqueue(ctx context.Context, c store.Collection, op string, payload any) (OutboxEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutboxEntry{}, fmt.Errorf("encode outbox payload: %w", err)
	}
	entry := OutboxEntry{
		ID:         xid.New("ob"),
		Collection: c,
		Op:         op,
		Payload:    raw,
		QueuedAt:   s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.outbox(ctx)
	if err != nil {
		return OutboxEntry{}, err
	}
	entries = append(entries, entry)
	if err := save(ctx, s, keyOutbox, entries); err != nil {
		return OutboxEntry{}, err
	}
	return entry, nil
}

// Pending returns queued writes, oldest first.
func (s *Store) Pending(ctx context.Context) ([]OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox(ctx)
}

// PendingCollections reports which collections have queued writes.
func (s *Store) PendingCollections(ctx context.Context) (map[store.Collection]int, error) {
	entries, err := s.Pending(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[store.Collection]int, len(entries))
	for _, e := range entries {
		out[e.Collection]++
	}
	return out, nil
}

// Ack removes a replayed entry.
func (s *Store) Ack(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.outbox(ctx)
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	return save(ctx, s, keyOutbox, kept)
}
