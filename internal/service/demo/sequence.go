// Package demo 提供演示模式下的脚本化数据源。
package demo

import "sync"

// Sequence 按顺序循环返回预设条目，每个实例维护自己的游标。
type Sequence[T any] struct {
	mu    sync.Mutex
	items []T
	next  int
}

// NewSequence 创建循环序列。items 为空时 Next 返回零值。
func NewSequence[T any](items ...T) *Sequence[T] {
	copied := make([]T, len(items))
	copy(copied, items)
	return &Sequence[T]{items: copied}
}

// Next 返回当前条目并推进游标，到末尾后回到开头。
func (s *Sequence[T]) Next() T {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if len(s.items) == 0 {
		return zero
	}
	item := s.items[s.next%len(s.items)]
	s.next = (s.next + 1) % len(s.items)
	return item
}

// Reset 把游标拨回开头。
func (s *Sequence[T]) Reset() {
	s.mu.Lock()
	s.next = 0
	s.mu.Unlock()
}

// Len 返回条目数量。
func (s *Sequence[T]) Len() int {
	return len(s.items)
}
