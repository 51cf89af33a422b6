package ring

// Buffer は容量固定の両端キューです
// 新しい要素は先頭に追加され、容量を超えた場合は末尾（最も古い要素）から破棄されます
type Buffer[T any] struct {
	items    []T
	capacity int
}

// New は指定容量の Buffer を作成します
// capacity が 0 以下の場合は 1 として扱います
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// FromSlice は newest-first に並んだスライスから Buffer を復元します
// 容量を超える分は末尾から切り捨てます
func FromSlice[T any](items []T, capacity int) *Buffer[T] {
	b := New[T](capacity)
	n := min(len(items), b.capacity)
	b.items = append(b.items, items[:n]...)
	return b
}

// Push は要素を先頭に追加し、溢れた要素を返します
func (b *Buffer[T]) Push(item T) (evicted []T) {
	if len(b.items) == b.capacity {
		evicted = append(evicted, b.items[len(b.items)-1])
		b.items = b.items[:len(b.items)-1]
	}
	b.items = append(b.items, item)
	copy(b.items[1:], b.items[:len(b.items)-1])
	b.items[0] = item
	return evicted
}

// Update は条件に一致した最初の要素を更新します
func (b *Buffer[T]) Update(match func(T) bool, update func(*T)) bool {
	for i := range b.items {
		if match(b.items[i]) {
			update(&b.items[i])
			return true
		}
	}
	return false
}

// Items は newest-first のコピーを返します
func (b *Buffer[T]) Items() []T {
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

// Len は現在の要素数を返します
func (b *Buffer[T]) Len() int {
	return len(b.items)
}

// Cap は容量を返します
func (b *Buffer[T]) Cap() int {
	return b.capacity
}

// Reset はすべての要素を破棄します
func (b *Buffer[T]) Reset() {
	clear(b.items)
	b.items = b.items[:0]
}
