package bufferpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sushant-115/gojopool/core/transaction"
	flushmanager "github.com/sushant-115/gojopool/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojopool/internal/telemetry"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// DefaultMaxWait bounds how long Pin waits for a frame to become free.
const DefaultMaxWait = 10 * time.Second

// FileLayer reads and writes whole blocks. Write must be durable on return.
type FileLayer interface {
	BlockSize() int
	Read(blk pagemanager.BlockID, p *pagemanager.Page) error
	Write(blk pagemanager.BlockID, p *pagemanager.Page) error
}

// LogFlusher forces log records with LSN <= lsn to stable storage.
type LogFlusher interface {
	Flush(lsn pagemanager.LSN) error
}

// Option configures a BufferPoolManager.
type Option func(*BufferPoolManager)

// WithMaxWait sets how long Pin waits before failing with ErrAllocationTimeout.
func WithMaxWait(d time.Duration) Option {
	return func(bpm *BufferPoolManager) { bpm.maxWait = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(bpm *BufferPoolManager) { bpm.logger = logger }
}

func WithMetrics(m *internaltelemetry.BufferPoolMetrics) Option {
	return func(bpm *BufferPoolManager) { bpm.metrics = m }
}

// Stats counts pool activity since construction.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Flushes   int64
	Timeouts  int64
	Available int
	Dirty     int
}

// BufferPoolManager owns a fixed set of frames and hands them out to callers
// that pin disk blocks. Frames are reused in the order they became free.
//
// Pin, Unpin, Flush, FlushAll and Available are serialized by one mutex. Pin is
// the only call that blocks: when every frame is pinned it waits, without the
// lock, until an unpin frees a frame or maxWait elapses.
type BufferPoolManager struct {
	fileLayer  FileLayer
	logFlusher LogFlusher
	maxWait    time.Duration
	logger     *zap.Logger
	metrics    *internaltelemetry.BufferPoolMetrics
	gauge      metric.Registration

	mu           sync.Mutex
	frames       []*Frame
	pageTable    map[pagemanager.BlockID]int // block to slot id
	free         *freeList
	numAvailable int
	released     chan struct{} // closed and replaced on every unpin to zero
	stats        Stats
}

// NewBufferPoolManager creates a pool of numFrames frames, all unassigned.
func NewBufferPoolManager(fl FileLayer, lf LogFlusher, numFrames int, opts ...Option) (*BufferPoolManager, error) {
	if fl == nil || lf == nil {
		return nil, errors.New("buffer pool needs a file layer and a log flusher")
	}
	if numFrames <= 0 {
		return nil, fmt.Errorf("buffer pool size must be positive, got %d", numFrames)
	}
	if fl.BlockSize() <= 0 {
		return nil, flushmanager.ErrInvalidBlockSize
	}

	bpm := &BufferPoolManager{
		fileLayer:    fl,
		logFlusher:   lf,
		maxWait:      DefaultMaxWait,
		frames:       make([]*Frame, numFrames),
		pageTable:    make(map[pagemanager.BlockID]int, numFrames),
		free:         newFreeList(numFrames),
		numAvailable: numFrames,
		released:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(bpm)
	}
	if bpm.logger == nil {
		bpm.logger = zap.NewNop()
	}
	if bpm.maxWait <= 0 {
		bpm.maxWait = DefaultMaxWait
	}
	if bpm.metrics == nil {
		bpm.metrics = internaltelemetry.NewNoopBufferPoolMetrics()
	} else {
		reg, err := bpm.metrics.ObserveAvailable(bpm.Available)
		if err != nil {
			return nil, fmt.Errorf("failed to register available frames gauge: %w", err)
		}
		bpm.gauge = reg
	}
	for i := range bpm.frames {
		bpm.frames[i] = newFrame(i, bpm, fl, lf)
	}

	bpm.logger.Info("buffer pool initialized",
		zap.Int("frames", numFrames),
		zap.Int("block_size", fl.BlockSize()),
		zap.Duration("max_wait", bpm.maxWait))
	return bpm, nil
}

// Available returns the number of frames with a zero pin count.
func (bpm *BufferPoolManager) Available() int {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.numAvailable
}

// Pin returns a pinned frame holding blk, reading it from disk if it is not
// resident. If every frame is pinned, Pin waits for an unpin and fails with
// ErrAllocationTimeout once maxWait has passed. A failed Pin reserves nothing.
func (bpm *BufferPoolManager) Pin(blk pagemanager.BlockID) (*Frame, error) {
	start := time.Now()
	deadline := start.Add(bpm.maxWait)
	var (
		timer   *time.Timer
		expired bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	bpm.mu.Lock()
	for {
		frame, hit, err := bpm.tryToPin(blk)
		if err != nil {
			bpm.mu.Unlock()
			return nil, err
		}
		if frame != nil {
			bpm.mu.Unlock()
			bpm.metrics.RecordPin(context.Background(), hit, time.Since(start))
			return frame, nil
		}

		remaining := time.Until(deadline)
		if expired || remaining <= 0 {
			bpm.stats.Timeouts++
			bpm.mu.Unlock()
			bpm.metrics.TimeoutsCounter.Add(context.Background(), 1)
			bpm.logger.Warn("pin timed out waiting for a free frame",
				zap.Stringer("block", blk),
				zap.Duration("waited", time.Since(start)))
			return nil, fmt.Errorf("%w: pinning %s after %s", flushmanager.ErrAllocationTimeout, blk, bpm.maxWait)
		}

		released := bpm.released
		bpm.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(remaining)
		}
		select {
		case <-released:
		case <-timer.C:
			expired = true
		}
		bpm.mu.Lock()
	}
}

// tryToPin makes one attempt to pin blk. It returns a nil frame and nil error
// when no frame is free.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) tryToPin(blk pagemanager.BlockID) (*Frame, bool, error) {
	if slot, ok := bpm.pageTable[blk]; ok {
		frame := bpm.frames[slot]
		if !frame.IsPinned() {
			bpm.free.remove(slot)
			bpm.numAvailable--
			bpm.metrics.PinnedUpDownCounter.Add(context.Background(), 1)
		}
		frame.pin()
		bpm.stats.Hits++
		bpm.logger.Debug("block found in buffer pool",
			zap.Stringer("block", blk),
			zap.Int("slot", slot),
			zap.Int("pin_count", frame.PinCount()))
		return frame, true, nil
	}

	slot, ok := bpm.free.victim()
	if !ok {
		return nil, false, nil
	}
	frame := bpm.frames[slot]

	// The victim goes back to the head of the queue if it cannot be reused, so a
	// failed pin leaves the replacement order as it was.
	flushed, err := frame.flush()
	if err != nil {
		bpm.free.pushFront(slot)
		bpm.logger.Error("failed to flush victim frame", zap.Int("slot", slot), zap.Error(err))
		return nil, false, err
	}
	if flushed {
		bpm.recordFlush()
	}

	if old, ok := frame.Block(); ok {
		delete(bpm.pageTable, old)
		bpm.stats.Evictions++
		bpm.metrics.EvictionsCounter.Add(context.Background(), 1)
		bpm.logger.Debug("evicting block", zap.Stringer("old_block", old), zap.Int("slot", slot))
	}
	if err := frame.assignToBlock(blk); err != nil {
		bpm.free.pushFront(slot)
		bpm.logger.Error("failed to load block", zap.Stringer("block", blk), zap.Int("slot", slot), zap.Error(err))
		return nil, false, err
	}

	bpm.pageTable[blk] = slot
	bpm.numAvailable--
	frame.pin()
	bpm.stats.Misses++
	bpm.metrics.PinnedUpDownCounter.Add(context.Background(), 1)
	bpm.logger.Debug("block loaded into buffer pool", zap.Stringer("block", blk), zap.Int("slot", slot))
	return frame, false, nil
}

// Unpin releases one pin on frame. When the count reaches zero the frame joins
// the back of the free queue and every waiting Pin is woken.
func (bpm *BufferPoolManager) Unpin(frame *Frame) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if err := bpm.checkOwned(frame); err != nil {
		return err
	}
	if err := frame.unpin(); err != nil {
		bpm.logger.Warn("rejected unpin", zap.Int("slot", frame.slotID), zap.Error(err))
		return err
	}
	if !frame.IsPinned() {
		bpm.numAvailable++
		bpm.free.pushBack(frame.slotID)
		bpm.metrics.PinnedUpDownCounter.Add(context.Background(), -1)
		close(bpm.released)
		bpm.released = make(chan struct{})
	}
	return nil
}

// Flush writes frame back if it is dirty. The caller must hold a pin on it.
func (bpm *BufferPoolManager) Flush(frame *Frame) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if err := bpm.checkOwned(frame); err != nil {
		return err
	}
	if !frame.IsPinned() {
		return fmt.Errorf("%w: flush of unpinned frame %d", flushmanager.ErrMisuse, frame.slotID)
	}
	flushed, err := frame.flush()
	if flushed {
		bpm.recordFlush()
	}
	return err
}

// FlushAll writes back every frame last modified by txn. Other frames, and all
// pin counts, are untouched. Every matching frame is attempted; the first error
// is returned.
func (bpm *BufferPoolManager) FlushAll(txn transaction.TxnID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if txn == transaction.NoTxn {
		return nil
	}
	var firstErr error
	for _, frame := range bpm.frames {
		flushed, err := frame.flushIfModifiedBy(txn)
		if flushed {
			bpm.recordFlush()
		}
		if err != nil {
			bpm.logger.Error("failed to flush frame for transaction",
				zap.Stringer("txn", txn), zap.Int("slot", frame.slotID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// FlushAllPages writes back every dirty frame regardless of transaction.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	var firstErr error
	for _, frame := range bpm.frames {
		flushed, err := frame.flush()
		if flushed {
			bpm.recordFlush()
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Status returns a snapshot of every frame, ordered by slot id.
func (bpm *BufferPoolManager) Status() []FrameStatus {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	out := make([]FrameStatus, len(bpm.frames))
	for i, frame := range bpm.frames {
		out[i] = frame.status()
	}
	return out
}

// EvictionOrder lists the unpinned slots in the order they would be reused.
func (bpm *BufferPoolManager) EvictionOrder() []int {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.free.slots()
}

func (bpm *BufferPoolManager) Stats() Stats {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	s := bpm.stats
	s.Available = bpm.numAvailable
	for _, frame := range bpm.frames {
		if frame.IsDirty() {
			s.Dirty++
		}
	}
	return s
}

// Size returns the number of frames in the pool.
func (bpm *BufferPoolManager) Size() int { return len(bpm.frames) }

// BlockSize returns the size of each frame's page.
func (bpm *BufferPoolManager) BlockSize() int { return bpm.fileLayer.BlockSize() }

// Close writes back every dirty frame and stops reporting metrics. Only Stats
// and Status may be called afterwards.
func (bpm *BufferPoolManager) Close() error {
	err := bpm.FlushAllPages()
	if bpm.gauge != nil {
		if uerr := bpm.gauge.Unregister(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

// checkOwned MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) checkOwned(frame *Frame) error {
	if frame == nil || frame.pool != bpm {
		return fmt.Errorf("%w: frame does not belong to this buffer pool", flushmanager.ErrMisuse)
	}
	return nil
}

// recordFlush MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) recordFlush() {
	bpm.stats.Flushes++
	bpm.metrics.FlushesCounter.Add(context.Background(), 1)
}
