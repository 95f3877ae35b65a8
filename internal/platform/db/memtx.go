package db

import (
	"context"
	"sync"
)

const undoKey contextKey = "memory_undo"

type undoLog struct {
	mu  sync.Mutex
	fns []func()
}

func (l *undoLog) rollback() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.fns) - 1; i >= 0; i-- {
		l.fns[i]()
	}
	l.fns = nil
}

// MemoryTx is the Transactor used with the in-memory repositories. Units of
// work are serialized, and writes registered through OnRollback are undone
// in reverse order when fn fails.
type MemoryTx struct {
	mu sync.Mutex
}

func NewMemoryTx() *MemoryTx {
	return &MemoryTx{}
}

func (m *MemoryTx) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(undoKey).(*undoLog); ok {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log := &undoLog{}
	defer func() {
		if p := recover(); p != nil {
			log.rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, undoKey, log)); err != nil {
		log.rollback()
		return err
	}
	return nil
}

// OnRollback registers undo to run if the memory transaction in ctx fails.
// Outside a memory transaction it does nothing.
func OnRollback(ctx context.Context, undo func()) {
	log, ok := ctx.Value(undoKey).(*undoLog)
	if !ok {
		return
	}
	log.mu.Lock()
	log.fns = append(log.fns, undo)
	log.mu.Unlock()
}
