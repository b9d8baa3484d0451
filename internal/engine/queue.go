package engine

import "container/heap"

// taskQueue is a max-heap on priority with FIFO order inside a priority
// class. Requeued tasks receive a fresh sequence number, which places them at
// the tail of their class.
type taskQueue []*taskMeta

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].task.Priority != q[j].task.Priority {
		return q[i].task.Priority > q[j].task.Priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x interface{}) { *q = append(*q, x.(*taskMeta)) }

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// push enqueues a task. Callers hold the execution lock.
func (ex *execution) push(m *taskMeta) {
	ex.seq++
	m.seq = ex.seq
	heap.Push(&ex.queue, m)
}

// pop removes the highest-priority queued task, skipping entries cancelled
// while waiting. Returns nil when the queue is empty.
func (ex *execution) pop() *taskMeta {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	for ex.queue.Len() > 0 {
		m := heap.Pop(&ex.queue).(*taskMeta)
		if m.state == StateCancelled {
			continue
		}
		return m
	}
	return nil
}
