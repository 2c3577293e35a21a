package queue

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueue(t *testing.T) {
	t.Run("MinHeap", func(t *testing.T) {
		pq := &PriorityQueue{Order: false}
		heap.Init(pq)

		heap.Push(pq, &PriorityQueueItem{Node: 1, Distance: 3.0})
		heap.Push(pq, &PriorityQueueItem{Node: 2, Distance: 1.0})
		heap.Push(pq, &PriorityQueueItem{Node: 3, Distance: 2.0})

		item, _ := heap.Pop(pq).(*PriorityQueueItem)
		assert.Equal(t, uint64(2), item.Node)
		item, _ = heap.Pop(pq).(*PriorityQueueItem)
		assert.Equal(t, uint64(3), item.Node)
		item, _ = heap.Pop(pq).(*PriorityQueueItem)
		assert.Equal(t, uint64(1), item.Node)
	})

	t.Run("MaxHeap", func(t *testing.T) {
		pq := &PriorityQueue{Order: true}
		heap.Init(pq)

		heap.Push(pq, &PriorityQueueItem{Node: 1, Distance: 3.0})
		heap.Push(pq, &PriorityQueueItem{Node: 2, Distance: 1.0})
		heap.Push(pq, &PriorityQueueItem{Node: 3, Distance: 2.0})

		// Worst on top
		top, _ := pq.Top().(*PriorityQueueItem)
		assert.Equal(t, uint64(1), top.Node)

		item, _ := heap.Pop(pq).(*PriorityQueueItem)
		assert.Equal(t, uint64(1), item.Node)
		item, _ = heap.Pop(pq).(*PriorityQueueItem)
		assert.Equal(t, uint64(3), item.Node)
		item, _ = heap.Pop(pq).(*PriorityQueueItem)
		assert.Equal(t, uint64(2), item.Node)
	})

	t.Run("PopEmpty", func(t *testing.T) {
		pq := &PriorityQueue{}
		assert.Nil(t, pq.Pop())
	})
}
