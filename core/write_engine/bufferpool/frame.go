package bufferpool

import (
	"fmt"
	"sync"

	"github.com/sushant-115/gojopool/core/transaction"
	flushmanager "github.com/sushant-115/gojopool/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
)

// Frame is one slot of the buffer pool: a page-sized buffer plus the
// bookkeeping for the block it currently holds. A frame is dirty while it has a
// modifying transaction.
//
// Pin counts and block assignment change only under the owning pool's lock.
// The frame's own mutex makes each state transition, in particular
// log-force-then-write, atomic with respect to that frame.
type Frame struct {
	slotID     int
	pool       *BufferPoolManager
	fileLayer  FileLayer
	logFlusher LogFlusher

	mu       sync.Mutex
	page     *pagemanager.Page
	block    pagemanager.BlockID
	assigned bool
	pins     int
	txn      transaction.TxnID
	lsn      pagemanager.LSN
}

func newFrame(slotID int, pool *BufferPoolManager, fl FileLayer, lf LogFlusher) *Frame {
	return &Frame{
		slotID:     slotID,
		pool:       pool,
		fileLayer:  fl,
		logFlusher: lf,
		page:       pagemanager.NewPage(fl.BlockSize()),
		txn:        transaction.NoTxn,
		lsn:        pagemanager.InvalidLSN,
	}
}

// SlotID is the frame's fixed position in the pool.
func (f *Frame) SlotID() int { return f.slotID }

// Contents returns the frame's page. Callers must hold a pin while using it.
func (f *Frame) Contents() *pagemanager.Page { return f.page }

// Block returns the block held by the frame, and false if it was never assigned.
func (f *Frame) Block() (pagemanager.BlockID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, f.assigned
}

// IsPinned reports whether any caller holds the frame.
func (f *Frame) IsPinned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pins > 0
}

// PinCount returns the number of outstanding pins.
func (f *Frame) PinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pins
}

// ModifyingTxn returns the transaction that last modified the page, or
// transaction.NoTxn if the page is clean.
func (f *Frame) ModifyingTxn() transaction.TxnID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txn
}

// LastLSN returns the LSN of the latest logged change, or InvalidLSN.
func (f *Frame) LastLSN() pagemanager.LSN {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lsn
}

// IsDirty reports whether the page has changes not yet written back.
func (f *Frame) IsDirty() bool {
	return f.ModifyingTxn() != transaction.NoTxn
}

// SetModified records that txn changed the page. A negative lsn means the
// change produced no log record, and the previous LSN is kept. NoTxn is not a
// modifier and the call is ignored, so a dirty page never turns clean here.
func (f *Frame) SetModified(txn transaction.TxnID, lsn pagemanager.LSN) {
	if txn == transaction.NoTxn {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txn = txn
	if lsn >= 0 {
		f.lsn = lsn
	}
}

func (f *Frame) pin() {
	f.mu.Lock()
	f.pins++
	f.mu.Unlock()
}

func (f *Frame) unpin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pins == 0 {
		return fmt.Errorf("%w: unpin of frame %d with pin count 0", flushmanager.ErrMisuse, f.slotID)
	}
	f.pins--
	return nil
}

// flush writes the page back if it is dirty and reports whether it did.
func (f *Frame) flush() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked()
}

// flushIfModifiedBy flushes only when txn is the frame's modifying transaction.
func (f *Frame) flushIfModifiedBy(txn transaction.TxnID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.txn != txn {
		return false, nil
	}
	return f.flushLocked()
}

// flushLocked MUST be called with f.mu locked. The log is forced up to the
// frame's LSN before the page write is issued; the dirty state survives any
// failure.
func (f *Frame) flushLocked() (bool, error) {
	if f.txn == transaction.NoTxn {
		return false, nil
	}
	if f.lsn != pagemanager.InvalidLSN {
		if err := f.logFlusher.Flush(f.lsn); err != nil {
			return false, fmt.Errorf("forcing log to lsn %d for %s: %w", f.lsn, f.block, err)
		}
	}
	if err := f.fileLayer.Write(f.block, f.page); err != nil {
		return false, fmt.Errorf("writing %s from frame %d: %w", f.block, f.slotID, err)
	}
	f.txn = transaction.NoTxn
	return true, nil
}

// assignToBlock flushes the frame if dirty and loads target into it. Only the
// pool calls this, and only for an unpinned frame. If the read fails the frame
// is left unassigned.
func (f *Frame) assignToBlock(target pagemanager.BlockID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.flushLocked(); err != nil {
		return err
	}
	f.block = target
	f.assigned = true
	f.pins = 0
	f.lsn = pagemanager.InvalidLSN
	if err := f.fileLayer.Read(target, f.page); err != nil {
		f.block = pagemanager.BlockID{}
		f.assigned = false
		return fmt.Errorf("reading %s into frame %d: %w", target, f.slotID, err)
	}
	return nil
}

// FrameStatus is a point-in-time view of one frame.
type FrameStatus struct {
	SlotID       int
	Block        pagemanager.BlockID
	Assigned     bool
	PinCount     int
	ModifyingTxn transaction.TxnID
	LastLSN      pagemanager.LSN
}

func (f *Frame) status() FrameStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FrameStatus{
		SlotID:       f.slotID,
		Block:        f.block,
		Assigned:     f.assigned,
		PinCount:     f.pins,
		ModifyingTxn: f.txn,
		LastLSN:      f.lsn,
	}
}
