package workerpool

const minQueueCapacity = 16

// taskQueue is an unbounded FIFO ring buffer. It is not safe for concurrent
// use; WorkerPool only touches it while holding its mutex.
type taskQueue struct {
	buf   []Task
	head  int
	count int
}

func (q *taskQueue) len() int {
	return q.count
}

func (q *taskQueue) push(t Task) {
	if q.count == len(q.buf) {
		q.resize(max(minQueueCapacity, 2*len(q.buf)))
	}
	q.buf[(q.head+q.count)%len(q.buf)] = t
	q.count++
}

// pop removes and returns the oldest task. The vacated slot is cleared so
// the task's captured state can be collected after it runs.
func (q *taskQueue) pop() (Task, bool) {
	if q.count == 0 {
		return nil, false
	}
	t := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--

	if len(q.buf) > minQueueCapacity && q.count <= len(q.buf)/4 {
		q.resize(len(q.buf) / 2)
	}
	return t, true
}

func (q *taskQueue) resize(n int) {
	buf := make([]Task, n)
	if q.count > 0 {
		if q.head+q.count <= len(q.buf) {
			copy(buf, q.buf[q.head:q.head+q.count])
		} else {
			k := copy(buf, q.buf[q.head:])
			copy(buf[k:], q.buf[:q.count-k])
		}
	}
	q.buf = buf
	q.head = 0
}
