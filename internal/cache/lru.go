package cache

import "container/list"

// lru is a size-bounded map that evicts the least recently used entry.
// It is not safe for concurrent use; Versioned guards it with its mutex.
type lru[K comparable, V any] struct {
	maxSize int
	items   map[K]*list.Element
	order   *list.List
}

type lruItem[K comparable, V any] struct {
	key  K
	data V
}

func newLRU[K comparable, V any](maxSize int) *lru[K, V] {
	return &lru[K, V]{
		maxSize: maxSize,
		items:   make(map[K]*list.Element),
		order:   list.New(),
	}
}

// get returns the value for key and marks it most recently used.
func (c *lru[K, V]) get(key K) (V, bool) {
	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*lruItem[K, V]).data, true
}

// set stores key and reports whether an older entry was evicted for room.
func (c *lru[K, V]) set(key K, data V) (evicted bool) {
	if elem, ok := c.items[key]; ok {
		elem.Value.(*lruItem[K, V]).data = data
		c.order.MoveToFront(elem)
		return false
	}
	c.items[key] = c.order.PushFront(&lruItem[K, V]{key: key, data: data})
	if c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
		return true
	}
	return false
}

// deleteFunc removes every entry whose key matches and returns the count.
func (c *lru[K, V]) deleteFunc(match func(K) bool) int {
	var doomed []*list.Element
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if match(elem.Value.(*lruItem[K, V]).key) {
			doomed = append(doomed, elem)
		}
	}
	for _, elem := range doomed {
		c.remove(elem)
	}
	return len(doomed)
}

func (c *lru[K, V]) clear() {
	clear(c.items)
	c.order.Init()
}

func (c *lru[K, V]) len() int { return len(c.items) }

func (c *lru[K, V]) remove(elem *list.Element) {
	delete(c.items, elem.Value.(*lruItem[K, V]).key)
	c.order.Remove(elem)
}
