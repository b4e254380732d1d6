package session

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.oidclab.dev/implicit/domain"
)

// MemoryStore implements Store on top of ttlcache, which evicts sessions
// automatically once their absolute lifetime passes.
type MemoryStore struct {
	cache *ttlcache.Cache[string, *domain.Session]
}

// NewMemoryStore creates an in-memory session store with background
// expiry cleanup.
func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.Session](),
	)
	go cache.Start()

	return &MemoryStore{cache: cache}
}

// StoreSession implements Store.StoreSession.
func (s *MemoryStore) StoreSession(_ context.Context, sess *domain.Session) error {
	s.cache.Set(sess.ID, sess, time.Until(sess.ExpiresAt))
	return nil
}

// GetSession implements Store.GetSession.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	item := s.cache.Get(sessionID)
	if item == nil {
		return nil, ErrSessionNotFound
	}
	sess := item.Value()
	if !sess.Active(time.Now()) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// UpdateSession implements Store.UpdateSession. The remaining TTL follows
// the session's absolute expiry, which updates never extend.
func (s *MemoryStore) UpdateSession(_ context.Context, sess *domain.Session) error {
	if item := s.cache.Get(sess.ID); item == nil {
		return ErrSessionNotFound
	}
	s.cache.Set(sess.ID, sess, time.Until(sess.ExpiresAt))
	return nil
}

// DeleteSession implements Store.DeleteSession.
func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.cache.Delete(sessionID)
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}

// MemoryFlowStore implements FlowStore on top of ttlcache.
type MemoryFlowStore struct {
	cache *ttlcache.Cache[string, *Flow]
}

// NewMemoryFlowStore creates an in-memory flow store.
func NewMemoryFlowStore() *MemoryFlowStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *Flow](),
	)
	go cache.Start()

	return &MemoryFlowStore{cache: cache}
}

// StoreFlow implements FlowStore.StoreFlow.
func (s *MemoryFlowStore) StoreFlow(_ context.Context, flow *Flow) error {
	s.cache.Set(flow.ID, flow, time.Until(flow.ExpiresAt))
	return nil
}

// GetFlow implements FlowStore.GetFlow.
func (s *MemoryFlowStore) GetFlow(_ context.Context, flowID string) (*Flow, error) {
	item := s.cache.Get(flowID)
	if item == nil {
		return nil, ErrFlowNotFound
	}
	flow := item.Value()
	if time.Now().After(flow.ExpiresAt) {
		return nil, ErrFlowExpired
	}
	return flow, nil
}

// DeleteFlow implements FlowStore.DeleteFlow.
func (s *MemoryFlowStore) DeleteFlow(_ context.Context, flowID string) error {
	s.cache.Delete(flowID)
	return nil
}
