// Package queue serializes state-mutating commands into a strictly ordered,
// one-at-a-time pipeline with bounded retry.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned when enqueueing into a closed queue.
var ErrQueueClosed = errors.New("command queue closed")

// Status is the lifecycle of a command.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Command is a single queued, retryable unit of work.
type Command struct {
	ID          string
	Type        string
	Payload     any
	Timestamp   time.Time
	Attempts    int
	MaxAttempts int
	Status      Status
}

// Executor runs one attempt of a command. ctx is cancelled when the command
// is superseded or the queue closes.
type Executor func(ctx context.Context, cmd Command) error

// Options configures a Queue.
type Options struct {
	// MaxAttempts overrides DefaultMaxAttempts per command type.
	MaxAttempts        map[string]int
	DefaultMaxAttempts int
	RetryDelay         time.Duration

	// Supersedes reports whether an incoming command cancels the running one.
	Supersedes func(incoming, running Command) bool

	OnRetry   func(cmd Command, err error)
	OnFailure func(cmd Command, err error)
	// OnSettled is called once per command with its terminal status.
	OnSettled func(cmd Command)

	Logger *slog.Logger
}

// Queue executes commands FIFO on a single worker goroutine.
type Queue struct {
	exec Executor
	opts Options
	log  *slog.Logger

	mu            sync.Mutex
	pending       []*Command
	running       *Command
	cancelRunning context.CancelFunc
	idle          chan struct{}
	closed        bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a queue that runs exec for every enqueued command.
func New(exec Executor, opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultMaxAttempts <= 0 {
		opts.DefaultMaxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		exec:   exec,
		opts:   opts,
		log:    opts.Logger,
		idle:   idle,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) maxAttempts(cmdType string) int {
	if n, ok := q.opts.MaxAttempts[cmdType]; ok && n > 0 {
		return n
	}
	return q.opts.DefaultMaxAttempts
}

// Enqueue appends a command and returns its id without waiting for it to run.
func (q *Queue) Enqueue(cmdType string, payload any) (string, error) {
	cmd := &Command{
		ID:          uuid.NewString(),
		Type:        cmdType,
		Payload:     payload,
		Timestamp:   time.Now(),
		MaxAttempts: q.maxAttempts(cmdType),
		Status:      StatusPending,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	if q.running == nil && len(q.pending) == 0 {
		q.idle = make(chan struct{})
	}
	q.pending = append(q.pending, cmd)
	if q.running != nil && q.opts.Supersedes != nil && q.opts.Supersedes(*cmd, *q.running) {
		q.log.Debug("Command superseded", "running_id", q.running.ID, "running_type", q.running.Type, "incoming_type", cmdType)
		q.cancelRunning()
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return cmd.ID, nil
}

// Len returns the number of commands waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// WaitIdle blocks until no command is pending or running.
func (q *Queue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the running command, drops pending ones and stops the worker.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	<-q.done

	for _, cmd := range dropped {
		cmd.Status = StatusCancelled
		q.settle(*cmd)
	}

	q.mu.Lock()
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
	q.mu.Unlock()
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		cmd, ctx, ok := q.next()
		if !ok {
			return
		}
		q.execute(ctx, cmd)

		q.mu.Lock()
		q.cancelRunning()
		q.running = nil
		q.cancelRunning = nil
		if len(q.pending) == 0 && !q.closed {
			close(q.idle)
		}
		q.mu.Unlock()
	}
}

func (q *Queue) next() (*Command, context.Context, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, nil, false
		}
		if len(q.pending) > 0 {
			cmd := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			ctx, cancel := context.WithCancel(q.ctx)
			q.running = cmd
			q.cancelRunning = cancel
			q.mu.Unlock()
			return cmd, ctx, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return nil, nil, false
		}
	}
}

func (q *Queue) execute(ctx context.Context, cmd *Command) {
	for {
		q.mu.Lock()
		cmd.Attempts++
		cmd.Status = StatusExecuting
		snapshot := *cmd
		q.mu.Unlock()

		err := q.exec(ctx, snapshot)
		if err == nil {
			q.settle(q.finish(cmd, StatusCompleted))
			return
		}

		if ctx.Err() != nil {
			q.log.Info("Command cancelled", "command_id", cmd.ID, "type", cmd.Type, "attempt", snapshot.Attempts)
			q.settle(q.finish(cmd, StatusCancelled))
			return
		}

		if snapshot.Attempts >= snapshot.MaxAttempts {
			q.log.Error("Command failed", "command_id", cmd.ID, "type", cmd.Type, "attempts", snapshot.Attempts, "error", err)
			failed := q.finish(cmd, StatusFailed)
			if q.opts.OnFailure != nil {
				q.opts.OnFailure(failed, err)
			}
			q.settle(failed)
			return
		}

		q.log.Warn("Command attempt failed, retrying", "command_id", cmd.ID, "type", cmd.Type, "attempt", snapshot.Attempts, "max_attempts", snapshot.MaxAttempts, "error", err)
		if q.opts.OnRetry != nil {
			q.opts.OnRetry(snapshot, err)
		}

		if q.opts.RetryDelay > 0 {
			timer := time.NewTimer(q.opts.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				q.settle(q.finish(cmd, StatusCancelled))
				return
			case <-timer.C:
			}
		}
	}
}

func (q *Queue) finish(cmd *Command, status Status) Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmd.Status = status
	return *cmd
}

func (q *Queue) settle(cmd Command) {
	if q.opts.OnSettled != nil {
		q.opts.OnSettled(cmd)
	}
}
