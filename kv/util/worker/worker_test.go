package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingHandler struct {
	started bool
	tasks   []int
}

func (h *recordingHandler) Start() {
	h.started = true
}

func (h *recordingHandler) Handle(t Task) {
	h.tasks = append(h.tasks, t.(int))
}

func TestWorkerRunsTasksInOrder(t *testing.T) {
	wg := new(sync.WaitGroup)
	w := NewWorker("test", wg)
	h := new(recordingHandler)
	w.Start(h)

	for i := 0; i < 10; i++ {
		w.Sender() <- i
	}
	assert.True(t, w.Schedule(10))
	w.Stop()
	wg.Wait()

	assert.True(t, h.started)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, h.tasks)
	assert.Equal(t, "test", w.Name())
}

func TestScheduleDropsWhenFull(t *testing.T) {
	w := NewWorker("idle", new(sync.WaitGroup))
	for i := 0; i < defaultWorkerCapacity; i++ {
		assert.True(t, w.Schedule(i))
	}
	assert.False(t, w.Schedule(defaultWorkerCapacity))
}

type blockingHandler struct {
	release chan struct{}
	handled int
}

func (h *blockingHandler) Handle(t Task) {
	<-h.release
	h.handled++
}

func TestStopDoesNotBlockWhenFull(t *testing.T) {
	wg := new(sync.WaitGroup)
	w := NewWorker("busy", wg)
	h := &blockingHandler{release: make(chan struct{})}
	w.Start(h)

	// The first task holds the worker while the queue fills up behind it.
	w.Sender() <- 0
	for i := 1; i <= defaultWorkerCapacity; {
		if w.Schedule(i) {
			i++
		}
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked on a full queue")
	}

	close(h.release)
	wg.Wait()
	assert.True(t, h.handled < defaultWorkerCapacity+1)
}
