package feed

import "sync"

// Window は1回のページ取得で使う種別ごとのオフセットと件数。
type Window struct {
	PostOffset    int
	SnippetOffset int
	Limit         int
}

// CursorPair は投稿とスニペットのページングカーソルを組で管理する。
// 取得中フラグで同時に1件の読み込みのみを許可し、両種別が同じ読み込みで
// ページサイズ未満しか増えなかった時点で枯渇とする。枯渇は元に戻らない。
type CursorPair struct {
	mu        sync.Mutex
	pageSize  int
	loading   bool
	exhausted bool
}

// NewCursorPair はCursorPairを生成する。
func NewCursorPair(pageSize int) *CursorPair {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &CursorPair{pageSize: pageSize}
}

// Begin は読み込みを開始する。
// 既に読み込み中、または枯渇済みの場合はfalseを返し、状態を変更しない。
// オフセットには呼び出し時点で保持している件数をそのまま使う。
func (c *CursorPair) Begin(heldPosts, heldSnippets int) (Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading || c.exhausted {
		return Window{}, false
	}
	c.loading = true
	return Window{
		PostOffset:    heldPosts,
		SnippetOffset: heldSnippets,
		Limit:         c.pageSize,
	}, true
}

// Finish は重複除去後の新規件数を受け取り読み込みを完了する。
// 枯渇状態を返す。
func (c *CursorPair) Finish(newPosts, newSnippets int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if newPosts < c.pageSize && newSnippets < c.pageSize {
		c.exhausted = true
	}
	return c.exhausted
}

// Abort は取得失敗時に読み込み中フラグだけを解除する。
func (c *CursorPair) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
}

// Loading は読み込み中かどうかを返す。
func (c *CursorPair) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Exhausted は枯渇済みかどうかを返す。
func (c *CursorPair) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// PageSize は1回の取得件数を返す。
func (c *CursorPair) PageSize() int {
	return c.pageSize
}
