package events

// eventQueue min-heap по (Timestamp, seq) для container/heap
type eventQueue []Event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].Timestamp != q[j].Timestamp {
		return q[i].Timestamp < q[j].Timestamp
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(Event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = Event{}
	*q = old[:n-1]
	return ev
}
