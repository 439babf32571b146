package mirror

import (
	"context"
	"fmt"
	"slices"

	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/xid"
)

// SaveCartSnapshot keeps the in-progress cart so an interrupted session can resume.
func (s *Store) SaveCartSnapshot(ctx context.Context, items []domain.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if items == nil {
		items = []domain.CartItem{}
	}
	return save(ctx, s, keyCart, items)
}

func (s *Store) LoadCartSnapshot(ctx context.Context) ([]domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load[[]domain.CartItem](ctx, s, keyCart, nil)
}

func (s *Store) parked(ctx context.Context) ([]domain.ParkedCart, error) {
	return load[[]domain.ParkedCart](ctx, s, keyParked, nil)
}

func (s *Store) ListParkedCarts(ctx context.Context) ([]domain.ParkedCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parked(ctx)
}

func (s *Store) SaveParkedCart(ctx context.Context, cart domain.ParkedCart) (*domain.ParkedCart, error) {
	if len(cart.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}
	if cart.ID == "" {
		cart.ID = xid.New("park")
	}
	if cart.ParkedAt.IsZero() {
		cart.ParkedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	carts, err := s.parked(ctx)
	if err != nil {
		return nil, err
	}
	carts = upsertByID(carts, cart, parkedID, false)
	if err := save(ctx, s, keyParked, carts); err != nil {
		return nil, err
	}
	return &cart, nil
}

// TakeParkedCart removes a parked cart and returns it.
func (s *Store) TakeParkedCart(ctx context.Context, id string) (*domain.ParkedCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	carts, err := s.parked(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexByID(carts, id, parkedID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: parked cart %s", store.ErrNotFound, id)
	}
	taken := carts[idx]
	carts = slices.Delete(carts, idx, idx+1)
	if err := save(ctx, s, keyParked, carts); err != nil {
		return nil, err
	}
	return &taken, nil
}
