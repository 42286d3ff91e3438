package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojopool/core/transaction"
	flushmanager "github.com/sushant-115/gojopool/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
)

func TestFrame_AssignLoadsBlock(t *testing.T) {
	rec := newRecorder()
	f := newFrame(0, nil, rec, rec)

	_, ok := f.Block()
	require.False(t, ok, "frames start unassigned")

	blk := pagemanager.NewBlockID("f", 6)
	require.NoError(t, f.assignToBlock(blk))
	got, ok := f.Block()
	require.True(t, ok)
	require.Equal(t, blk, got)
	require.Equal(t, 0, f.PinCount())
	v, err := f.Contents().GetInt(0)
	require.NoError(t, err)
	require.Equal(t, int32(6), v)
}

func TestFrame_AssignFlushesDirtyPageFirst(t *testing.T) {
	rec := newRecorder()
	f := newFrame(0, nil, rec, rec)
	a, b := pagemanager.NewBlockID("f", 1), pagemanager.NewBlockID("f", 2)

	require.NoError(t, f.assignToBlock(a))
	require.NoError(t, f.Contents().SetInt(4, 77))
	f.SetModified(9, 12)
	require.NoError(t, f.assignToBlock(b))

	require.Equal(t, []string{
		"read " + a.String(),
		"flush 12",
		"write " + a.String(),
		"read " + b.String(),
	}, rec.snapshot())
	require.Equal(t, transaction.NoTxn, f.ModifyingTxn())
	require.Equal(t, pagemanager.InvalidLSN, f.LastLSN(), "a reassigned frame carries no LSN")

	// A's bytes reached the disk.
	p := pagemanager.NewPage(testBlockSize)
	require.NoError(t, rec.Read(a, p))
	v, err := p.GetInt(4)
	require.NoError(t, err)
	require.Equal(t, int32(77), v)
}

func TestFrame_FlushCleanIsNoop(t *testing.T) {
	rec := newRecorder()
	f := newFrame(0, nil, rec, rec)
	require.NoError(t, f.assignToBlock(pagemanager.NewBlockID("f", 1)))

	flushed, err := f.flush()
	require.NoError(t, err)
	require.False(t, flushed)
	require.Len(t, rec.snapshot(), 1)
}

func TestFrame_UnpinAtZeroFailsFast(t *testing.T) {
	rec := newRecorder()
	f := newFrame(3, nil, rec, rec)
	f.pin()
	require.NoError(t, f.unpin())
	require.ErrorIs(t, f.unpin(), flushmanager.ErrMisuse)
	require.Equal(t, 0, f.PinCount())
}

func TestFrame_FlushIfModifiedBy(t *testing.T) {
	rec := newRecorder()
	f := newFrame(0, nil, rec, rec)
	require.NoError(t, f.assignToBlock(pagemanager.NewBlockID("f", 1)))
	f.SetModified(5, 1)

	flushed, err := f.flushIfModifiedBy(6)
	require.NoError(t, err)
	require.False(t, flushed)
	require.True(t, f.IsDirty())

	flushed, err = f.flushIfModifiedBy(5)
	require.NoError(t, err)
	require.True(t, flushed)
	require.False(t, f.IsDirty())
}

func TestFrame_SetModifiedIgnoresNoTxn(t *testing.T) {
	rec := newRecorder()
	f := newFrame(0, nil, rec, rec)
	blk := pagemanager.NewBlockID("f", 1)
	require.NoError(t, f.assignToBlock(blk))

	f.SetModified(7, 3)
	f.SetModified(transaction.NoTxn, 5)
	require.True(t, f.IsDirty())
	require.Equal(t, transaction.TxnID(7), f.ModifyingTxn())
	require.Equal(t, pagemanager.LSN(3), f.LastLSN())

	flushed, err := f.flush()
	require.NoError(t, err)
	require.True(t, flushed)
	require.Equal(t, []string{"read " + blk.String(), "flush 3", "write " + blk.String()}, rec.snapshot())
}
