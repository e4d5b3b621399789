package util

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestQueuePushRecv tests basic push and delivery
func TestQueuePushRecv(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Stop()

	for i := 0; i < 10; i++ {
		v := i
		if !q.Push(&v) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("Expected %d, got %d", i, *val)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", *val)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestQueuePushNil verifies nil values are rejected
func TestQueuePushNil(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Stop()

	if q.Push(nil) {
		t.Error("Push(nil) should return false")
	}
}

// TestQueueConcurrentProducers verifies every value of every producer arrives exactly once
func TestQueueConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Stop()

	const numProducers = 10
	const itemsPerProducer = 1000
	const totalItems = numProducers * itemsPerProducer

	received := make(map[int]bool, totalItems)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for len(received) < totalItems {
			select {
			case val := <-q.Recv():
				if received[*val] {
					t.Errorf("Duplicate item received: %d", *val)
				}
				received[*val] = true
			case <-time.After(5 * time.Second):
				t.Errorf("Timeout waiting for items, received %d of %d", len(received), totalItems)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()
			base := producerID * itemsPerProducer
			for i := 0; i < itemsPerProducer; i++ {
				val := base + i
				if !q.Push(&val) {
					t.Errorf("Producer %d failed to push item %d", producerID, i)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for consumer to finish")
	}

	if len(received) != totalItems {
		t.Errorf("Expected %d items, got %d", totalItems, len(received))
	}
}

// TestQueueCloseDrains verifies closing keeps queued values and then closes the channel
func TestQueueCloseDrains(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Stop()

	for i := 0; i < 5; i++ {
		v := i
		q.Push(&v)
	}
	q.Close()

	val := 100
	if q.Push(&val) {
		t.Error("Should not be able to push after queue is closed")
	}
	if !q.IsClosed() {
		t.Error("IsClosed() should report true after Close()")
	}

	for i := 0; i < 5; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("Expected %d, got %d", i, *val)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d after close", i)
		}
	}

	select {
	case _, ok := <-q.Recv():
		if ok {
			t.Error("Channel should be closed but is still open")
		}
	case <-time.After(time.Second):
		t.Error("Channel was not closed after draining")
	}
}

// TestQueueStopWithoutReader verifies Stop returns even when nobody reads the queued values
func TestQueueStopWithoutReader(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	for i := 0; i < 3; i++ {
		v := i
		q.Push(&v)
	}

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		q.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop() blocked with undelivered values")
	}
}

// TestQueueSingleProducerOrder verifies a single producer's values keep their order
func TestQueueSingleProducerOrder(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Stop()

	const itemCount = 10000
	go func() {
		for i := 0; i < itemCount; i++ {
			v := i
			q.Push(&v)
		}
	}()

	prev := -1
	for i := 0; i < itemCount; i++ {
		select {
		case val := <-q.Recv():
			if *val < prev {
				t.Fatalf("Item %d arrived after %d", *val, prev)
			}
			prev = *val
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}
}

// BenchmarkQueueMultiProducer benchmarks the queue with multiple producers
func BenchmarkQueueMultiProducer(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	defer q.Stop()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(&i)
			i++
		}
	})
}
