package kernel

// waitq is a FIFO ring of wakeup channels that grows on demand.
type waitq struct {
	head  uint32
	tail  uint32
	slots []chan struct{}
}

func (q *waitq) len() int { return int(q.head - q.tail) }

func (q *waitq) push(ch chan struct{}) {
	if q.len() == len(q.slots) {
		q.grow()
	}
	q.slots[q.head%uint32(len(q.slots))] = ch
	q.head++
}

func (q *waitq) pop() (chan struct{}, bool) {
	if q.tail == q.head {
		return nil, false
	}
	i := q.tail % uint32(len(q.slots))
	ch := q.slots[i]
	q.slots[i] = nil
	q.tail++
	return ch, true
}

func (q *waitq) grow() {
	n := len(q.slots) * 2
	if n == 0 {
		n = 4
	}
	slots := make([]chan struct{}, n)
	count := q.len()
	for i := 0; i < count; i++ {
		slots[i] = q.slots[(q.tail+uint32(i))%uint32(len(q.slots))]
	}
	q.slots = slots
	q.tail = 0
	q.head = uint32(count)
}
