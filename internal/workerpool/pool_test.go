package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddTaskRunsOnWorker(t *testing.T) {
	p := New(4)
	defer p.Close()

	var n atomic.Int64
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		p.AddTask(func() {
			n.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	if got := n.Load(); got != 100 {
		t.Fatalf("n = %d, want 100", got)
	}
}

func TestCloseDrainsQueueBeforeExit(t *testing.T) {
	p := New(2)
	var n atomic.Int64
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		p.AddTask(func() {
			time.Sleep(time.Millisecond)
			n.Add(1)
			wg.Done()
		})
	}
	p.Close()
	wg.Wait()
	if got := n.Load(); got != 10 {
		t.Fatalf("n = %d, want 10", got)
	}
}

func TestAddTaskAfterCloseIsNoop(t *testing.T) {
	p := New(1)
	p.Close()

	ran := false
	p.AddTask(func() { ran = true })
	time.Sleep(10 * time.Millisecond)
	if ran {
		t.Fatal("task ran after pool was closed")
	}
}
