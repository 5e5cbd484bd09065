package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
)

// MemoryStore keeps sessions in process memory. It is used when no database
// is configured and in tests. Sessions are copied on the way in and out so
// callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]byte)}
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Create(_ context.Context, sess *models.CheckoutSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	m.sessions[sess.ID] = data
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.CheckoutSession, error) {
	m.mu.RLock()
	data, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return decode(data)
}

func (m *MemoryStore) GetByPaymentRef(_ context.Context, ref string) (*models.CheckoutSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *models.CheckoutSession
	for _, data := range m.sessions {
		sess, err := decode(data)
		if err != nil {
			return nil, err
		}
		if ref == "" || sess.PaymentRef != ref {
			continue
		}
		if found == nil || sess.UpdatedAt.After(found.UpdatedAt) {
			found = sess
		}
	}
	if found == nil {
		return nil, models.ErrSessionNotFound
	}
	return found, nil
}

func (m *MemoryStore) Update(_ context.Context, sess *models.CheckoutSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; !ok {
		return models.ErrSessionNotFound
	}
	m.sessions[sess.ID] = data
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, data := range m.sessions {
		sess, err := decode(data)
		if err != nil {
			return removed, err
		}
		if !sess.ExpiresAt.IsZero() && sess.ExpiresAt.Before(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func decode(data []byte) (*models.CheckoutSession, error) {
	var sess models.CheckoutSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}
