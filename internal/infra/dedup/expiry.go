package dedup

import "time"

// ─── Expiry Queue (Min-Heap) ────────────────────────────────────────────────
// Orders tracked event ids by expiry so eviction touches only expired
// entries.
//
//   push: O(log n), sift up
//   pop:  O(log n), sift down
//   peek: O(1)
//
// Re-marking an id pushes a second item. The stale one is skipped on pop
// because its expiry no longer matches the map.

type expiryItem struct {
	eventID string
	expires time.Time
}

type expiryQueue struct {
	heap []expiryItem
}

func (q *expiryQueue) push(item expiryItem) {
	q.heap = append(q.heap, item)
	q.siftUp(len(q.heap) - 1)
}

func (q *expiryQueue) peek() (expiryItem, bool) {
	if len(q.heap) == 0 {
		return expiryItem{}, false
	}
	return q.heap[0], true
}

func (q *expiryQueue) pop() (expiryItem, bool) {
	if len(q.heap) == 0 {
		return expiryItem{}, false
	}
	top := q.heap[0]
	last := len(q.heap) - 1
	q.heap[0] = q.heap[last]
	q.heap = q.heap[:last]
	if len(q.heap) > 0 {
		q.siftDown(0)
	}
	return top, true
}

func (q *expiryQueue) len() int { return len(q.heap) }

func (q *expiryQueue) less(i, j int) bool {
	return q.heap[i].expires.Before(q.heap[j].expires)
}

func (q *expiryQueue) siftUp(idx int) {
	for idx > 0 {
		parent := (idx - 1) / 2
		if !q.less(idx, parent) {
			break
		}
		q.heap[idx], q.heap[parent] = q.heap[parent], q.heap[idx]
		idx = parent
	}
}

func (q *expiryQueue) siftDown(idx int) {
	n := len(q.heap)
	for {
		smallest := idx
		left := 2*idx + 1
		right := 2*idx + 2

		if left < n && q.less(left, smallest) {
			smallest = left
		}
		if right < n && q.less(right, smallest) {
			smallest = right
		}
		if smallest == idx {
			break
		}
		q.heap[idx], q.heap[smallest] = q.heap[smallest], q.heap[idx]
		idx = smallest
	}
}
