package interaction

import (
	"context"
	"sync"

	"github.com/hitoshi/devhub/internal/model"
)

// Registry は閲覧者セッション内でマウント中のStoreを管理する。
// 1つのターゲットに対して同時に存在するStoreは常に1つだけ。
type Registry struct {
	viewerID string
	deps     Deps

	mu     sync.Mutex
	stores map[model.ItemKey]*Store
	closed bool
}

// NewRegistry はRegistryを生成する。
func NewRegistry(viewerID string, deps Deps) *Registry {
	return &Registry{
		viewerID: viewerID,
		deps:     deps,
		stores:   make(map[model.ItemKey]*Store),
	}
}

// Mount はターゲットのStoreを返す。未マウントなら生成して初期化する。
// 既にマウント済みの場合は既存のStoreを初期化完了まで待ってから返す。
func (r *Registry) Mount(ctx context.Context, target model.ItemKey) (*Store, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := r.stores[target]; ok {
		r.mu.Unlock()
		if err := s.WaitReady(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	s := NewStore(target, r.viewerID, r.deps)
	r.stores[target] = s
	r.mu.Unlock()

	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Get はマウント中のStoreを返す。
func (r *Registry) Get(target model.ItemKey) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[target]
	return s, ok
}

// Unmount はStoreを破棄する。マウントされていなければfalseを返す。
func (r *Registry) Unmount(target model.ItemKey) bool {
	r.mu.Lock()
	s, ok := r.stores[target]
	delete(r.stores, target)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// Len はマウント中のStore数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// CloseAll は全Storeを破棄し、以降のMountを拒否する。
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	stores := r.stores
	r.stores = make(map[model.ItemKey]*Store)
	r.mu.Unlock()

	for _, s := range stores {
		s.Close()
	}
}
