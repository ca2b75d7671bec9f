package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultTTL is how long an untouched cart survives.
const DefaultTTL = time.Hour

// Repository loads and saves cart state. Load of a missing cart returns an
// empty state, not an error.
type Repository interface {
	Load(ctx context.Context, key Key) (State, error)
	Save(ctx context.Context, state State) error
	Delete(ctx context.Context, key Key) error
}

// Store is a Repository that can tell a miss from an empty cart.
type Store interface {
	Repository
	Find(ctx context.Context, key Key) (State, bool, error)
}

// RedisRepository keeps carts as JSON documents with a sliding TTL.
type RedisRepository struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func (r RedisRepository) key(k Key) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "cart:"
	}
	return prefix + string(k)
}

func (r RedisRepository) ttl() time.Duration {
	if r.TTL <= 0 {
		return DefaultTTL
	}
	return r.TTL
}

// Find implements Store.
func (r RedisRepository) Find(ctx context.Context, key Key) (State, bool, error) {
	data, err := r.Client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("redis get cart: %w", err)
	}
	return decodeState(key, data)
}

// Load implements Repository.
func (r RedisRepository) Load(ctx context.Context, key Key) (State, error) {
	return loadVia(ctx, r, key)
}

// Save implements Repository.
func (r RedisRepository) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := r.Client.Set(ctx, r.key(state.Key), data, r.ttl()).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	return nil
}

// Delete implements Repository.
func (r RedisRepository) Delete(ctx context.Context, key Key) error {
	if err := r.Client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}

// SessionDB is the subset of pgxpool.Pool used by SessionRepository.
type SessionDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SessionRepository keeps carts in the durable cart_sessions table.
type SessionRepository struct {
	DB  SessionDB
	TTL time.Duration
	Now func() time.Time
}

func (r SessionRepository) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Find implements Store. Expired rows count as missing.
func (r SessionRepository) Find(ctx context.Context, key Key) (State, bool, error) {
	var data []byte
	err := r.DB.QueryRow(ctx, `SELECT payload FROM cart_sessions WHERE cart_key = $1 AND expires_at > $2`,
		string(key), r.now()).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("load cart session: %w", err)
	}
	return decodeState(key, data)
}

// Load implements Repository.
func (r SessionRepository) Load(ctx context.Context, key Key) (State, error) {
	return loadVia(ctx, r, key)
}

// Save implements Repository.
func (r SessionRepository) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := r.now()
	_, err = r.DB.Exec(ctx, `INSERT INTO cart_sessions (cart_key, payload, expires_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cart_key) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		string(state.Key), data, now.Add(ttl), now)
	if err != nil {
		return fmt.Errorf("save cart session: %w", err)
	}
	return nil
}

// Delete implements Repository.
func (r SessionRepository) Delete(ctx context.Context, key Key) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM cart_sessions WHERE cart_key = $1`, string(key)); err != nil {
		return fmt.Errorf("delete cart session: %w", err)
	}
	return nil
}

// DualWriteRepository keeps a fast cache and a durable store in step. Reads
// prefer the cache and re-warm it from the durable copy; writes go to both.
type DualWriteRepository struct {
	Cache   Store
	Durable Store
	Logger  zerolog.Logger
}

// Find implements Store.
func (r DualWriteRepository) Find(ctx context.Context, key Key) (State, bool, error) {
	state, ok, err := r.Cache.Find(ctx, key)
	if err != nil {
		r.Logger.Warn().Err(err).Str("cart_key", string(key)).Msg("cart cache read failed")
	}
	if ok {
		return state, true, nil
	}
	state, ok, err = r.Durable.Find(ctx, key)
	if err != nil || !ok {
		return state, ok, err
	}
	if err := r.Cache.Save(ctx, state); err != nil {
		r.Logger.Warn().Err(err).Str("cart_key", string(key)).Msg("cart cache rewarm failed")
	}
	return state, true, nil
}

// Load implements Repository.
func (r DualWriteRepository) Load(ctx context.Context, key Key) (State, error) {
	return loadVia(ctx, r, key)
}

// Save implements Repository. The durable copy is written first and the
// cache is left alone when that fails. A cache that rejects the new state is
// cleared so reads fall through to the durable copy.
func (r DualWriteRepository) Save(ctx context.Context, state State) error {
	if err := r.Durable.Save(ctx, state); err != nil {
		return err
	}
	cacheErr := r.Cache.Save(ctx, state)
	if cacheErr == nil {
		return nil
	}
	if err := r.Cache.Delete(ctx, state.Key); err != nil {
		return fmt.Errorf("cart cache holds a stale copy: %w", errors.Join(cacheErr, err))
	}
	r.Logger.Warn().Err(cacheErr).Str("cart_key", string(state.Key)).Msg("cart cache write failed, entry dropped")
	return nil
}

// Delete implements Repository.
func (r DualWriteRepository) Delete(ctx context.Context, key Key) error {
	return errors.Join(r.Cache.Delete(ctx, key), r.Durable.Delete(ctx, key))
}

// MemoryRepository is an in-process Store. States are kept encoded so
// callers never share maps.
type MemoryRepository struct {
	mu     sync.Mutex
	states map[Key][]byte
}

// NewMemoryRepository returns an empty in-process repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{states: map[Key][]byte{}}
}

// Find implements Store.
func (m *MemoryRepository) Find(_ context.Context, key Key) (State, bool, error) {
	m.mu.Lock()
	data, ok := m.states[key]
	m.mu.Unlock()
	if !ok {
		return State{}, false, nil
	}
	return decodeState(key, data)
}

// Load implements Repository.
func (m *MemoryRepository) Load(ctx context.Context, key Key) (State, error) {
	return loadVia(ctx, m, key)
}

// Save implements Repository.
func (m *MemoryRepository) Save(_ context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Key] = data
	return nil
}

// Delete implements Repository.
func (m *MemoryRepository) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
	return nil
}

func loadVia(ctx context.Context, s Store, key Key) (State, error) {
	if err := key.validate(); err != nil {
		return State{}, err
	}
	state, ok, err := s.Find(ctx, key)
	if err != nil {
		return State{}, err
	}
	if !ok {
		return NewState(key), nil
	}
	return state, nil
}

func decodeState(key Key, data []byte) (State, bool, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("decode cart %s: %w", key, err)
	}
	state.Key = key
	if state.Lines == nil {
		state.Lines = map[string]Line{}
	}
	return state, true, nil
}
