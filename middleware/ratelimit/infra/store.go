package infra

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultMaxEntries   = 1_000_000
	DefaultShards       = 64
	DefaultCleanupEvery = 2 * time.Minute

	expiredScanLimit = 16
)

// MemoryStore é o CounterStore em memória de um processo.
//
// As chaves são distribuídas em shards (xxhash). O lock do shard só protege o
// índice (map + LRU) e é mantido por instantes; a exclusão mútua por chave fica
// no próprio entry, então chaves diferentes não disputam o mesmo lock durante
// o Compute. Como o lock vive no entry, ele é liberado junto com o entry quando
// este expira ou é despejado: não existe mapa de locks crescendo para sempre.
//
// O limite maxEntries vale para o store inteiro (contador atômico), não por
// shard: enquanto houver espaço nenhuma chave viva é despejada, caiam elas no
// shard que for. Com o store cheio, a inserção despeja primeiro no próprio
// shard (expirados do fim da LRU, depois o menos usado); se o shard estiver
// vazio, o excesso sai do fim da LRU dos outros shards.
type MemoryStore[V any] struct {
	shards       []*shard[V]
	now          func() time.Time
	maxEntries   int
	cleanupEvery time.Duration

	size atomic.Int64
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List
	size  *atomic.Int64
}

type storeEntry[V any] struct {
	key       string
	expiresAt time.Time

	mu      sync.Mutex
	value   V
	removed atomic.Bool
}

type StoreOption func(*storeConfig)

type storeConfig struct {
	now          func() time.Time
	maxEntries   int
	shards       int
	cleanupEvery time.Duration
}

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) { c.now = now }
}

// WithMaxEntries limita o total de entries do store.
func WithMaxEntries(n int) StoreOption {
	return func(c *storeConfig) { c.maxEntries = n }
}

func WithShards(n int) StoreOption {
	return func(c *storeConfig) { c.shards = n }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(c *storeConfig) { c.cleanupEvery = d }
}

func NewMemoryStore[V any](opts ...StoreOption) *MemoryStore[V] {
	cfg := storeConfig{
		now:          time.Now,
		maxEntries:   DefaultMaxEntries,
		shards:       DefaultShards,
		cleanupEvery: DefaultCleanupEvery,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxEntries <= 0 {
		cfg.maxEntries = DefaultMaxEntries
	}
	if cfg.shards <= 0 {
		cfg.shards = DefaultShards
	}
	if cfg.shards > cfg.maxEntries {
		cfg.shards = cfg.maxEntries
	}

	s := &MemoryStore[V]{
		shards:       make([]*shard[V], cfg.shards),
		now:          cfg.now,
		maxEntries:   cfg.maxEntries,
		cleanupEvery: cfg.cleanupEvery,
	}
	for i := range s.shards {
		s.shards[i] = &shard[V]{
			items: make(map[string]*list.Element),
			lru:   list.New(),
			size:  &s.size,
		}
	}
	return s
}

var _ domain.CounterStore[int64] = (*MemoryStore[int64])(nil)

func (s *MemoryStore[V]) MaxEntries() int { return s.maxEntries }

func (s *MemoryStore[V]) CleanupEvery() time.Duration { return s.cleanupEvery }

// Len conta os entries presentes (inclusive expirados ainda não varridos).
func (s *MemoryStore[V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

// GetOrCreate implementa domain.CounterStore.
func (s *MemoryStore[V]) GetOrCreate(key string, initial V, ttl time.Duration) (V, error) {
	return s.Compute(key, initial, ttl, nil)
}

// Compute implementa domain.CounterStore: leitura (ou criação) e escrita
// condicional na mesma seção crítica da chave.
func (s *MemoryStore[V]) Compute(key string, initial V, ttl time.Duration, fn func(current V) (V, bool)) (V, error) {
	var zero V
	if err := validateArgs(key, initial, ttl); err != nil {
		return zero, err
	}

	for {
		sh := s.shardFor(key)
		now := s.now()
		e, created := sh.acquire(key, initial, ttl, now, int64(s.maxEntries))
		if created && s.size.Load() > int64(s.maxEntries) {
			s.shrink(sh, now)
		}

		e.mu.Lock()
		if e.removed.Load() {
			// despejado/expirado entre o lookup e o lock: tenta de novo
			e.mu.Unlock()
			continue
		}
		current := e.value
		if fn != nil {
			if next, write := fn(current); write {
				e.value = next
			}
		}
		e.mu.Unlock()
		return current, nil
	}
}

// Update implementa domain.CounterStore. Não renova o TTL; chave ausente ou
// expirada devolve domain.ErrKeyNotFound e nada é gravado.
func (s *MemoryStore[V]) Update(key string, value V) (V, error) {
	var zero V
	if key == "" {
		return zero, fmt.Errorf("%w: key must not be empty", domain.ErrInvalidArgument)
	}

	e, ok := s.shardFor(key).lookup(key, s.now())
	if !ok {
		return zero, fmt.Errorf("%w: %s", domain.ErrKeyNotFound, key)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed.Load() {
		return zero, fmt.Errorf("%w: %s", domain.ErrKeyNotFound, key)
	}
	e.value = value
	return value, nil
}

// Cleanup remove entries expirados de todos os shards.
func (s *MemoryStore[V]) Cleanup() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, el := range sh.items {
			if e := el.Value.(*storeEntry[V]); !e.expiresAt.After(now) {
				sh.remove(el)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// StartJanitor inicia uma goroutine que limpa chaves expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryStore[V]) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
// (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}

func (s *MemoryStore[V]) shardFor(key string) *shard[V] {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// acquire devolve o entry vivo da chave, criando-o se preciso. created indica
// que um entry novo entrou no shard.
func (sh *shard[V]) acquire(key string, initial V, ttl time.Duration, now time.Time, maxEntries int64) (e *storeEntry[V], created bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if el, ok := sh.items[key]; ok {
		e := el.Value.(*storeEntry[V])
		if e.expiresAt.After(now) {
			sh.lru.MoveToFront(el)
			return e, false
		}
		sh.remove(el)
	}

	// store cheio: abre espaço neste shard antes de inserir
	sh.evict(now, maxEntries)
	e = &storeEntry[V]{key: key, value: initial, expiresAt: now.Add(ttl)}
	sh.items[key] = sh.lru.PushFront(e)
	sh.size.Add(1)
	return e, true
}

// shrink devolve o store ao limite despejando dos outros shards. Só é chamado
// quando o shard da inserção não tinha o que despejar; skip fica de fora para
// não remover o entry recém-criado.
func (s *MemoryStore[V]) shrink(skip *shard[V], now time.Time) {
	maxEntries := int64(s.maxEntries)
	for _, sh := range s.shards {
		if s.size.Load() <= maxEntries {
			return
		}
		if sh == skip {
			continue
		}
		sh.mu.Lock()
		sh.evict(now, maxEntries+1)
		sh.mu.Unlock()
	}
}

func (sh *shard[V]) lookup(key string, now time.Time) (*storeEntry[V], bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	el, ok := sh.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*storeEntry[V])
	if !e.expiresAt.After(now) {
		sh.remove(el)
		return nil, false
	}
	sh.lru.MoveToFront(el)
	return e, true
}

// evict remove entries deste shard até o store ficar abaixo de limit: primeiro
// expirados no fim da LRU, depois os menos usados. Chamar com sh.mu travado.
func (sh *shard[V]) evict(now time.Time, limit int64) {
	if sh.size.Load() < limit {
		return
	}

	// primeiro tenta recuperar expirados no fim da LRU
	el := sh.lru.Back()
	for i := 0; el != nil && i < expiredScanLimit; i++ {
		prev := el.Prev()
		if e := el.Value.(*storeEntry[V]); !e.expiresAt.After(now) {
			sh.remove(el)
		}
		el = prev
	}

	for sh.size.Load() >= limit {
		back := sh.lru.Back()
		if back == nil {
			return
		}
		sh.remove(back)
	}
}

func (sh *shard[V]) remove(el *list.Element) {
	e := el.Value.(*storeEntry[V])
	e.removed.Store(true)
	sh.lru.Remove(el)
	delete(sh.items, e.key)
	sh.size.Add(-1)
}

func validateArgs[V any](key string, initial V, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("%w: key must not be empty", domain.ErrInvalidArgument)
	}
	if any(initial) == nil {
		return fmt.Errorf("%w: initial value must not be nil", domain.ErrInvalidArgument)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be > 0, got %s", domain.ErrInvalidArgument, ttl)
	}
	return nil
}
