package worker

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type TaskStop struct{}

type Task interface{}

// Worker runs tasks one at a time on its own goroutine, in the order they were sent.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	closeCh  chan struct{}
	stopOnce sync.Once
	wg       *sync.WaitGroup
}

type TaskHandler interface {
	Handle(t Task)
}

// Starter is implemented by handlers that need to run something on the worker goroutine before the
// first task.
type Starter interface {
	Start()
}

func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		log.Debug("worker started", zap.String("name", w.name))
		for {
			var task Task
			select {
			case <-w.closeCh:
				log.Debug("worker stopped, pending tasks dropped", zap.String("name", w.name))
				return
			case task = <-w.receiver:
			}
			if _, ok := task.(TaskStop); ok {
				log.Debug("worker stopped", zap.String("name", w.name))
				return
			}
			handler.Handle(task)
		}
	}()
}

func (w *Worker) Name() string {
	return w.name
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// Schedule queues t without blocking. It returns false and drops t when the queue is full.
func (w *Worker) Schedule(t Task) bool {
	select {
	case w.sender <- t:
		return true
	default:
		log.Warn("worker queue is full, task dropped", zap.String("name", w.name))
		return false
	}
}

// Stop asks the worker to exit once the tasks queued before it are handled. Stop never blocks: when
// the queue is full the worker exits soon after its current task and queued tasks may be dropped.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		select {
		case w.sender <- TaskStop{}:
		default:
			close(w.closeCh)
		}
	})
}

const defaultWorkerCapacity = 128

func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	ch := make(chan Task, defaultWorkerCapacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		closeCh:  make(chan struct{}),
		name:     name,
		wg:       wg,
	}
}
