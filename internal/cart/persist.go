package cart

import (
	"context"
	"encoding/json"
	"sync"

	redis "github.com/redis/go-redis/v9"

	"github.com/alippalheyss/posnew-nw-sub000/internal/domain"
)

const DefaultStateKey = "pos:carts:v1"

// Snapshot is the durable form of the whole cart collection.
type Snapshot struct {
	Carts    map[string]domain.Cart `json:"carts"`
	ActiveID string                 `json:"active_id"`
}

type Persister interface {
	Load(ctx context.Context) (*Snapshot, bool, error)
	Save(ctx context.Context, snap Snapshot) error
}

// MemoryPersister keeps the last snapshot in process. It stands in for redis in
// tests and when no redis address is configured.
type MemoryPersister struct {
	mu      sync.Mutex
	payload []byte
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (m *MemoryPersister) Load(_ context.Context) (*Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payload == nil {
		return nil, false, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(m.payload, &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

func (m *MemoryPersister) Save(_ context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.payload = payload
	m.mu.Unlock()
	return nil
}

// RedisPersister stores the snapshot as one JSON value without expiry.
type RedisPersister struct {
	client *redis.Client
	key    string
}

func NewRedisPersister(addr string, password string, db int, key string) *RedisPersister {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisPersisterFromClient(client, key)
}

func NewRedisPersisterFromClient(client *redis.Client, key string) *RedisPersister {
	if key == "" {
		key = DefaultStateKey
	}
	return &RedisPersister{client: client, key: key}
}

func (p *RedisPersister) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPersister) Close() error {
	return p.client.Close()
}

func (p *RedisPersister) Load(ctx context.Context) (*Snapshot, bool, error) {
	val, err := p.client.Get(ctx, p.key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

func (p *RedisPersister) Save(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, p.key, payload, 0).Err()
}
