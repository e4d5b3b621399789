package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// LockFreeMPSC is a lock-free Multi-Producer Single-Consumer queue.
//
// Features and Guarantees:
//
//   - Lock-Free writes: producers append with atomic operations only, a Push never waits for the consumer
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Single Consumer: values are delivered through the Recv() channel to one reading goroutine
//   - No Strict FIFO Guarantee across producers: concurrent pushes are ordered by which producer
//     completes its append first; pushes from a single producer keep their order
//
// Close() stops new writes but still delivers everything already queued, Stop() additionally
// abandons the undelivered values so the internal goroutine exits even without a reader.
type LockFreeMPSC[T any] struct {
	head atomic.Pointer[mpscNode[T]]
	tail atomic.Pointer[mpscNode[T]]

	out    chan *T
	wake   chan struct{} // capacity 1, a pending wake-up is never lost
	done   chan struct{}
	closed atomic.Bool

	stopOnce sync.Once
	consumer sync.WaitGroup
}

type mpscNode[T any] struct {
	value *T
	next  atomic.Pointer[mpscNode[T]]
}

// NewLockFreeMPSC creates an empty queue and starts its delivery goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &mpscNode[T]{}

	q := &LockFreeMPSC[T]{
		out:  make(chan *T),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.deliver()

	return q
}

// Push appends a value to the queue.
// Returns false if the value is nil or the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	n := &mpscNode[T]{value: value}
	var backoff uint8

	for {
		tail := q.tail.Load()
		next := tail.next.Load()

		if next != nil {
			// another producer appended but did not move the tail yet, help it
			q.tail.CompareAndSwap(tail, next)
		} else if tail.next.CompareAndSwap(nil, n) {
			// a failing CAS here only means someone else already moved the tail
			q.tail.CompareAndSwap(tail, n)
			q.signal()
			return true
		}

		// spin a little under low contention, yield more the longer we lose
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

func (q *LockFreeMPSC[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// deliver moves values from the linked list to the out channel until the queue is closed and drained
// (or stopped)
func (q *LockFreeMPSC[T]) deliver() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}

			value := next.value
			q.head.Store(next)

			select {
			case q.out <- value:
			case <-q.done:
				return
			}

			next.value = nil // the node is the new sentinel, drop the reference
		}

		if q.closed.Load() && q.head.Load().next.Load() == nil {
			return
		}

		select {
		case <-q.wake:
		case <-q.done:
			return
		}
	}
}

// Recv returns the receive-only channel values are delivered on.
// The channel is closed once the queue is closed and fully drained, or stopped.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close prevents further writes. Values already queued are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// Stop closes the queue, discards undelivered values and waits for the delivery goroutine to exit.
//
// Thread-safety: Stop may be called multiple times and from any goroutine.
func (q *LockFreeMPSC[T]) Stop() {
	q.Close()
	q.stopOnce.Do(func() { close(q.done) })
	q.consumer.Wait()
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of queued values. This is O(n) and meant for debugging and tests.
func (q *LockFreeMPSC[T]) Len() int {
	count := 0
	for n := q.head.Load().next.Load(); n != nil; n = n.next.Load() {
		count++
	}
	return count
}
