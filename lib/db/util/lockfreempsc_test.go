package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestMPSCBasicOperations(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if val != i {
				t.Errorf("Expected %d, got %v", i, val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", val)
	case <-time.After(10 * time.Millisecond):
	}

	if q.Len() != 0 {
		t.Errorf("Expected empty queue, Len() = %d", q.Len())
	}
}

func TestMPSCConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	const numProducers = 10
	const itemsPerProducer = 1000
	totalItems := numProducers * itemsPerProducer

	received := make(map[int]bool, totalItems)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for len(received) < totalItems {
			select {
			case val := <-q.Recv():
				if received[val] {
					t.Errorf("Duplicate item received: %v", val)
					return
				}
				received[val] = true
			case <-time.After(2 * time.Second):
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
				if !q.Push(base + i) {
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
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for consumer to finish")
	}

	if len(received) != totalItems {
		t.Errorf("Expected %d items, got %d", totalItems, len(received))
	}
}

func TestMPSCClose(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	q.Close()

	if q.Push(100) {
		t.Error("Should not be able to push after queue is closed")
	}
	if !q.IsClosed() {
		t.Error("IsClosed should report true after Close")
	}

	for i := 0; i < 5; i++ {
		select {
		case val := <-q.Recv():
			if val != i {
				t.Errorf("Expected %d, got %v", i, val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d after close", i)
		}
	}

	select {
	case _, ok := <-q.Recv():
		if ok {
			t.Error("Channel should be closed but is still open")
		}
	case <-time.After(time.Second):
		t.Fatal("Channel was not closed after draining")
	}
}

func TestMPSCOrderingSingleProducer(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	const itemCount = 10000
	go func() {
		for i := 0; i < itemCount; i++ {
			q.Push(i)
		}
	}()

	prev := -1
	for i := 0; i < itemCount; i++ {
		select {
		case val := <-q.Recv():
			if val <= prev {
				t.Fatalf("Item %d received after %d with a single producer", val, prev)
			}
			prev = val
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}
}

func BenchmarkMPSCMultiProducer(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(i)
			i++
		}
	})
}
