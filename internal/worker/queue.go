package worker

import (
	"context"
	"sync"

	"elb-shipper/internal/model"
)

// Queue 는 intake 와 worker 가 공유하는 유일한 가변 자원이다.
//   - Push: 절대 block 하지 않음 (unbounded)
//   - Pop:  item 이 생기거나 ctx 가 끝날 때까지 block
//
// 순서는 best-effort FIFO. 재등록된 job 은 tail 로 간다.
type Queue struct {
	mu    sync.Mutex
	items []*model.Job
	ready chan struct{} // cap 1, "비어 있지 않을 수 있음" 신호
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

func (q *Queue) Push(job *model.Job) {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()
	q.signal()
}

// Pop 은 head 의 job 을 꺼낸다. ctx 가 끝나면 (nil, false).
func (q *Queue) Pop(ctx context.Context) (*model.Job, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()

			if more {
				q.signal()
			}
			return job, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain 은 남은 job 을 모두 꺼내 돌려준다 (종료 시 유실 집계용).
func (q *Queue) Drain() []*model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
