package pool

import (
	"context"
	"sync"
	"sync/atomic"
)

// BufferPool hands out fixed-size byte slices for socket reads.
type BufferPool struct {
	size       int
	bufferPool sync.Pool
}

func NewBufferPool(bufferSize int) *BufferPool {
	bp := &BufferPool{size: bufferSize}
	bp.bufferPool.New = func() any {
		b := make([]byte, bufferSize)
		return &b
	}
	return bp
}

func (bp *BufferPool) GetBuffer() *[]byte {
	b := bp.bufferPool.Get().(*[]byte)
	*b = (*b)[:bp.size]
	return b
}

func (bp *BufferPool) PutBuffer(buffer *[]byte) {
	if buffer == nil || cap(*buffer) < bp.size {
		return
	}
	bp.bufferPool.Put(buffer)
}

// WorkerPool runs one handler call per submitted task. With maxWorkers <= 0
// every task gets its own goroutine; otherwise at most maxWorkers handlers
// run at once and Submit blocks while the queue is full.
type WorkerPool[T any] struct {
	handler func(context.Context, T)
	discard func(T)

	ingressChan chan T
	maxWorker   int

	wg       sync.WaitGroup
	inflight atomic.Int64
	closed   atomic.Bool
	closeMu  sync.RWMutex
	runCtx   context.Context
	started  atomic.Bool
}

func NewWorkerPool[T any](maxWorkers, queueDepth int) *WorkerPool[T] {
	if maxWorkers < 0 {
		maxWorkers = 0
	}
	wp := &WorkerPool[T]{maxWorker: maxWorkers}
	if maxWorkers > 0 {
		if queueDepth <= 0 {
			queueDepth = maxWorkers * 4
		}
		wp.ingressChan = make(chan T, queueDepth)
	}
	return wp
}

// OnDiscard sets fn to receive every task that was queued but never handed to
// a worker, so the caller can release what the task holds. Set it before Start.
func (wp *WorkerPool[T]) OnDiscard(fn func(T)) *WorkerPool[T] {
	wp.discard = fn
	return wp
}

// Start launches the workers. Handlers receive ctx; cancelling it stops
// bounded workers from picking up new tasks.
func (wp *WorkerPool[T]) Start(ctx context.Context, handler func(context.Context, T)) {
	if !wp.started.CompareAndSwap(false, true) {
		return
	}
	wp.handler = handler
	wp.runCtx = ctx
	for i := 0; i < wp.maxWorker; i++ {
		wp.startWorker(ctx)
	}
}

func (wp *WorkerPool[T]) startWorker(ctx context.Context) {
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case task, ok := <-wp.ingressChan:
				if !ok {
					return
				}
				if ctx.Err() != nil {
					wp.drop(task)
					return
				}
				wp.run(ctx, task)
			}
		}
	}()
}

func (wp *WorkerPool[T]) run(ctx context.Context, task T) {
	wp.inflight.Add(1)
	defer wp.inflight.Add(-1)
	wp.handler(ctx, task)
}

// Submit queues a task. It returns false when the pool is closed or ctx ends
// before the task could be queued.
func (wp *WorkerPool[T]) Submit(ctx context.Context, task T) bool {
	wp.closeMu.RLock()
	defer wp.closeMu.RUnlock()
	if wp.closed.Load() || !wp.started.Load() || wp.runCtx.Err() != nil {
		return false
	}

	if wp.maxWorker == 0 {
		wp.wg.Add(1)
		go func() {
			defer wp.wg.Done()
			wp.run(wp.runCtx, task)
		}()
		return true
	}

	select {
	case wp.ingressChan <- task:
		return true
	case <-ctx.Done():
		return false
	case <-wp.runCtx.Done():
		return false
	}
}

// TrySubmit queues a task without waiting. A full queue rejects it.
func (wp *WorkerPool[T]) TrySubmit(task T) bool {
	wp.closeMu.RLock()
	defer wp.closeMu.RUnlock()
	if wp.closed.Load() || !wp.started.Load() || wp.runCtx.Err() != nil {
		return false
	}
	if wp.maxWorker == 0 {
		wp.wg.Add(1)
		go func() {
			defer wp.wg.Done()
			wp.run(wp.runCtx, task)
		}()
		return true
	}
	select {
	case wp.ingressChan <- task:
		return true
	default:
		return false
	}
}

// InFlight is the number of handlers currently executing.
func (wp *WorkerPool[T]) InFlight() int {
	return int(wp.inflight.Load())
}

// Close stops accepting tasks. Queued tasks still run unless the Start context
// is already cancelled, in which case Wait discards them.
func (wp *WorkerPool[T]) Close() {
	wp.closeMu.Lock()
	defer wp.closeMu.Unlock()
	if wp.closed.Swap(true) {
		return
	}
	if wp.ingressChan != nil {
		close(wp.ingressChan)
	}
}

// Wait blocks until every worker and unbounded task goroutine has returned.
// Call Close first or cancel the Start context. After Close, tasks left in the
// queue go to the OnDiscard hook.
func (wp *WorkerPool[T]) Wait() {
	wp.wg.Wait()
	if !wp.closed.Load() || wp.ingressChan == nil {
		return
	}
	for task := range wp.ingressChan {
		wp.drop(task)
	}
}

func (wp *WorkerPool[T]) drop(task T) {
	if wp.discard != nil {
		wp.discard(task)
	}
}
