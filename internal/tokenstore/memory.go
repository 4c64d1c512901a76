package tokenstore

import (
	"context"
	"sync"

	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	gocache "github.com/patrickmn/go-cache"
)

// memoryStore guarda el par en un go-cache sin expiración.
// El mutex hace que las dos claves cambien juntas para los lectores.
type memoryStore struct {
	mu sync.RWMutex
	c  *gocache.Cache
}

// NewMemory crea un store en memoria (vive lo que vive el proceso).
func NewMemory() Store {
	return &memoryStore{c: gocache.New(gocache.NoExpiration, 0)}
}

func (m *memoryStore) Load(ctx context.Context) (types.TokenPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pairFrom(m.get(KeyAccessToken), m.get(KeyRefreshToken))
}

func (m *memoryStore) get(k string) string {
	v, ok := m.c.Get(k)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (m *memoryStore) Save(ctx context.Context, p types.TokenPair) error {
	if err := validate(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Set(KeyAccessToken, p.AccessToken, gocache.NoExpiration)
	m.c.Set(KeyRefreshToken, p.RefreshToken, gocache.NoExpiration)
	return nil
}

func (m *memoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Delete(KeyAccessToken)
	m.c.Delete(KeyRefreshToken)
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Flush()
	return nil
}
