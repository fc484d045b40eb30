package feed

import (
	"sync"

	"github.com/hitoshi/devhub/internal/model"
)

// Ledger はフィードが一度でも取り込んだアイテムキーの集合。
// 要素は増えるのみで、コントローラーの世代が続く間は削除されない。
type Ledger struct {
	mu   sync.Mutex
	keys map[model.ItemKey]struct{}
}

// NewLedger は空のLedgerを生成する。
func NewLedger() *Ledger {
	return &Ledger{keys: make(map[model.ItemKey]struct{})}
}

// Has はキーが既知かどうかを返す。
func (l *Ledger) Has(key model.ItemKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.keys[key]
	return ok
}

// Add はキーを登録する。
func (l *Ledger) Add(key model.ItemKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[key] = struct{}{}
}

// TryAdd は未知のキーであれば登録してtrueを返す。
// 同じキーで並行に呼ばれた場合、trueを返すのは最初の呼び出しだけ。
func (l *Ledger) TryAdd(key model.ItemKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.keys[key]; ok {
		return false
	}
	l.keys[key] = struct{}{}
	return true
}

// Len は登録済みキーの数を返す。
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
