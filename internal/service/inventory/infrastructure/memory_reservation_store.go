package infrastructure

import (
	"context"
	"sync"

	"stockhub/internal/service/inventory/domain"
)

// MemoryReservationStore 是 ReservationStore 的进程内实现，
// 用于测试和本地开发；语义与 Redis 实现一致。
type MemoryReservationStore struct {
	mu      sync.Mutex
	entries map[string][]domain.SoftReservation
}

func NewMemoryReservationStore() *MemoryReservationStore {
	return &MemoryReservationStore{entries: make(map[string][]domain.SoftReservation)}
}

func (s *MemoryReservationStore) Load(_ context.Context, productID string) ([]domain.SoftReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.entries[productID]
	out := make([]domain.SoftReservation, len(stored))
	copy(out, stored)
	return out, nil
}

func (s *MemoryReservationStore) Save(_ context.Context, productID string, entries []domain.SoftReservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(entries) == 0 {
		delete(s.entries, productID)
		return nil
	}
	stored := make([]domain.SoftReservation, len(entries))
	copy(stored, entries)
	s.entries[productID] = stored
	return nil
}
