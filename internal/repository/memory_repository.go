package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Monthlyaway/shortlinkd/internal/model"
)

// MemoryLinkStore is an in-process LinkStore. All operations are serialized
// by a single lock, which makes unique insert and click increment atomic.
type MemoryLinkStore struct {
	mu     sync.RWMutex
	links  map[string]*model.Link
	closed bool
}

func NewMemoryLinkStore() *MemoryLinkStore {
	return &MemoryLinkStore{links: make(map[string]*model.Link)}
}

func (m *MemoryLinkStore) TryInsertUnique(ctx context.Context, link *model.Link) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("insert link", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreUnavailable
	}
	if _, ok := m.links[link.Code]; ok {
		return ErrCodeTaken
	}
	stored := *link
	m.links[link.Code] = &stored
	return nil
}

func (m *MemoryLinkStore) FindByCode(ctx context.Context, code string) (*model.Link, error) {
	return m.find(ctx, code, false)
}

func (m *MemoryLinkStore) FindActiveByCode(ctx context.Context, code string) (*model.Link, error) {
	return m.find(ctx, code, true)
}

func (m *MemoryLinkStore) FindByCreatorAndURL(ctx context.Context, creator model.Creator, destinationURL string) (*model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("find link by creator and url", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreUnavailable
	}

	var newest *model.Link
	for _, l := range m.links {
		if l.Creator != creator || l.DestinationURL != destinationURL || !l.Active {
			continue
		}
		if newest == nil || l.CreatedAt.After(newest.CreatedAt) {
			newest = l
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	found := *newest
	return &found, nil
}

func (m *MemoryLinkStore) find(ctx context.Context, code string, activeOnly bool) (*model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("find link", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreUnavailable
	}
	l, ok := m.links[code]
	if !ok || (activeOnly && !l.Active) {
		return nil, ErrNotFound
	}
	found := *l
	return &found, nil
}

func (m *MemoryLinkStore) IncrementClicks(ctx context.Context, code string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr("increment clicks", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreUnavailable
	}
	l, ok := m.links[code]
	if !ok || !l.Active {
		return 0, ErrNotFound
	}
	l.ClickCount++
	return l.ClickCount, nil
}

func (m *MemoryLinkStore) Deactivate(ctx context.Context, code string, requester model.Creator, admin bool) error {
	return m.mutateOwned(ctx, code, requester, admin, func(l *model.Link) {
		l.Active = false
	})
}

func (m *MemoryLinkStore) Delete(ctx context.Context, code string, requester model.Creator, admin bool) error {
	return m.mutateOwned(ctx, code, requester, admin, func(l *model.Link) {
		delete(m.links, l.Code)
	})
}

func (m *MemoryLinkStore) mutateOwned(ctx context.Context, code string, requester model.Creator, admin bool, fn func(*model.Link)) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("mutate link", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreUnavailable
	}
	l, ok := m.links[code]
	if !ok {
		return ErrNotFound
	}
	if err := checkOwner(l, requester, admin); err != nil {
		return err
	}
	fn(l)
	return nil
}

func (m *MemoryLinkStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr("purge expired links", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreUnavailable
	}
	var n int64
	for code, l := range m.links {
		if l.IsExpired(now) {
			delete(m.links, code)
			n++
		}
	}
	return n, nil
}

func (m *MemoryLinkStore) CountCreatedSince(ctx context.Context, creator model.Creator, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr("count links", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStoreUnavailable
	}
	var n int64
	for _, l := range m.links {
		if l.Creator == creator && l.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryLinkStore) ListByCreator(ctx context.Context, creator model.Creator, page, pageSize int) ([]model.Link, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, wrapErr("list links", err)
	}

	m.mu.RLock()
	var all []model.Link
	closed := m.closed
	for _, l := range m.links {
		if l.Creator == creator {
			all = append(all, *l)
		}
	}
	m.mu.RUnlock()
	if closed {
		return nil, 0, ErrStoreUnavailable
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return []model.Link{}, total, nil
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []model.Link{}, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *MemoryLinkStore) AllCodes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("list codes", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreUnavailable
	}
	codes := make([]string, 0, len(m.links))
	for code := range m.links {
		codes = append(codes, code)
	}
	return codes, nil
}

func (m *MemoryLinkStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("ping", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreUnavailable
	}
	return nil
}

// Close marks the store unavailable; later calls return ErrStoreUnavailable
func (m *MemoryLinkStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
