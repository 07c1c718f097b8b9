package utils

import (
	"errors"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	TASK_CHAN_SIZE = 100
)

var ErrPoolStopped = errors.New("worker pool stopped")

type WorkerFunction = func(t *tomb.Tomb, task any) error
type WorkerPool struct {
	n     int      // number of workers
	tasks chan any // pending tasks
}

func NewWorkerPool(size uint) WorkerPool {
	if size == 0 {
		size = 1
	}
	return WorkerPool{
		n:     int(size),
		tasks: make(chan any, TASK_CHAN_SIZE),
	}
}

// AddTask queues a task. It blocks while the queue is full.
func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// TryAddTask queues a task unless the pool is dying.
func (pool *WorkerPool) TryAddTask(t *tomb.Tomb, task any) error {
	if !t.Alive() {
		return ErrPoolStopped
	}
	select {
	case <-t.Dying():
		return ErrPoolStopped
	case pool.tasks <- task:
		return nil
	}
}

// Requeue puts a task back from inside a worker. When the queue is full the
// send moves to its own goroutine so workers never block on each other.
func (pool *WorkerPool) Requeue(t *tomb.Tomb, task any) {
	select {
	case pool.tasks <- task:
	default:
		t.Go(func() error {
			if err := pool.TryAddTask(t, task); err != nil {
				log.Debug().Err(err).Msg("dropping task")
			}
			return nil
		})
	}
}

// Setup starts the workers under t and returns once they are running. A
// worker that fails kills the tomb.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	for id := 0; id < pool.n; id++ {
		t.Go(func() error {
			return pool.worker(t, id, work)
		})
	}
}

// Workers wait on tasks in the pool and action them.
func (pool *WorkerPool) worker(t *tomb.Tomb, id int, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Int("id", id).Msg("worker exiting")
				return err
			}
		}
	}
}
