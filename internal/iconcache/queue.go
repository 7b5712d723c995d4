package iconcache

import "sync"

// workQueue 是 vital/idle 两个 FIFO 列表，共用一把锁与一个条件变量。
type workQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	vital  []*Entry
	idle   []*Entry
	closed bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push 追加请求并唤醒一个等待中的 worker；队列关闭后返回 false。
// 同一条目可能重复入队，由条目自身的 inFlight/已验证判断吸收。
func (q *workQueue) push(e *Entry, vital bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if vital {
		q.vital = append(q.vital, e)
	} else {
		q.idle = append(q.idle, e)
	}
	q.cond.Signal()
	return true
}

// pop 阻塞直到有请求或队列关闭；vital 非空时总是先取 vital。
func (q *workQueue) pop() (entry *Entry, vital bool, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.vital) == 0 && len(q.idle) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false, false
	}
	if len(q.vital) > 0 {
		entry = q.vital[0]
		q.vital[0] = nil
		q.vital = q.vital[1:]
		return entry, true, true
	}
	entry = q.idle[0]
	q.idle[0] = nil
	q.idle = q.idle[1:]
	return entry, false, true
}

// clearVital 丢弃所有尚未开始的 vital 请求，返回丢弃数量。
func (q *workQueue) clearVital() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.vital)
	q.vital = nil
	return n
}

func (q *workQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.vital = nil
	q.idle = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *workQueue) lens() (vital, idle int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.vital), len(q.idle)
}
