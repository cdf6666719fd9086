package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/credgate/loginlog"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// WriteTimeout bounds each Append on the writer.
	WriteTimeout time.Duration
}

// Dispatcher forwards login log entries to a writer on a background goroutine.
type Dispatcher struct {
	cfg       Config
	writer    loginlog.Writer
	onError   func(error)
	ch        chan loginlog.Entry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	// mu orders sends against Close so nothing lands in ch after the final drain.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewDispatcher returns nil when cfg is disabled; every method is nil-safe.
// onError, when set, receives writer failures.
func NewDispatcher(cfg Config, writer loginlog.Writer, onError func(error)) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if writer == nil {
		writer = loginlog.NopWriter{}
	}

	d := &Dispatcher{
		cfg:     cfg,
		writer:  writer,
		onError: onError,
		ch:      make(chan loginlog.Entry, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case entry := <-d.ch:
			d.write(entry)
		case <-d.done:
			for {
				select {
				case entry := <-d.ch:
					d.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(entry loginlog.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()
	if err := d.writer.Append(ctx, entry); err != nil {
		d.failed.Add(1)
		if d.onError != nil {
			d.onError(err)
		}
	}
}

// Emit queues entry. With DropIfFull it never blocks; otherwise it waits for
// buffer space or ctx. Entries emitted after Close count as dropped.
func (d *Dispatcher) Emit(ctx context.Context, entry loginlog.Entry) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- entry:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- entry:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close drains queued entries and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.done)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

// Dropped counts entries discarded because the buffer was full or the
// dispatcher was closed.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts entries the writer rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
