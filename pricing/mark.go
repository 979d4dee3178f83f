package pricing

import (
	"fmt"
	"sync"
	"time"
)

// Mark is the latest observed price for a symbol.
type Mark struct {
	Symbol string
	Time   time.Time
	Price  float64
}

// MarkStore keeps the last mark per symbol and is safe for concurrent use.
type MarkStore struct {
	mu    sync.RWMutex
	marks map[string]Mark
}

func NewMarkStore() *MarkStore {
	return &MarkStore{marks: make(map[string]Mark)}
}

func (ms *MarkStore) Set(m Mark) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.marks[m.Symbol] = m
}

func (ms *MarkStore) Get(symbol string) (Mark, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	m, ok := ms.marks[symbol]
	if !ok {
		return Mark{}, fmt.Errorf("no mark for %s", symbol)
	}
	return m, nil
}
