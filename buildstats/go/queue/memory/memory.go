// Package memory implements queue.Queue in process memory, for local mode
// and tests.
package memory

import (
	"context"
	"sync"

	"go.buildstats.org/infra/buildstats/go/queue"
	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/sklog"
)

// maxDeliveries is how many times a job is handed out before it is dropped.
// The initial delivery counts, so a job survives two nacks.
const maxDeliveries = 3

// bufferSize bounds how many jobs can sit in the queue before Enqueue
// blocks.
const bufferSize = 1000

type envelope struct {
	msg        queue.Message
	deliveries int
}

// Queue implements queue.Queue with a buffered channel.
type Queue struct {
	ch chan envelope

	mutex   sync.Mutex
	started bool
}

// New returns an empty in-memory queue.
func New() *Queue {
	return &Queue{
		ch: make(chan envelope, bufferSize),
	}
}

// Enqueue implements queue.Queue.
func (q *Queue) Enqueue(ctx context.Context, msg queue.Message) error {
	select {
	case q.ch <- envelope{msg: msg}:
		return nil
	case <-ctx.Done():
		return skerr.Wrap(ctx.Err())
	}
}

// Start implements queue.Queue.
func (q *Queue) Start(ctx context.Context) (<-chan queue.Delivery, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.started {
		return nil, skerr.Fmt("Start may only be called once.")
	}
	q.started = true

	out := make(chan queue.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case env := <-q.ch:
				env.deliveries++
				delivery := queue.Delivery{
					Message: env.msg,
					Ack:     func() {},
					Nack: func() {
						q.redeliver(env)
					},
				}
				select {
				case out <- delivery:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// redeliver puts a nacked job back on the queue, unless it has used up its
// deliveries.
func (q *Queue) redeliver(env envelope) {
	if env.deliveries >= maxDeliveries {
		sklog.Errorf("Dropping job %q after %d deliveries.", env.msg.JobID, env.deliveries)
		return
	}
	select {
	case q.ch <- env:
	default:
		sklog.Errorf("Dropping nacked job %q, queue is full.", env.msg.JobID)
	}
}

// Confirm Queue implements queue.Queue.
var _ queue.Queue = (*Queue)(nil)
