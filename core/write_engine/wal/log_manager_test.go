package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

// --- Test Helpers ---

// setupLogManager creates a LogManager in a temporary directory with the
// background flusher disabled, so durability is driven only by the test.
func setupLogManager(t *testing.T) (*LogManager, string) {
	t.Helper()
	tempDir := t.TempDir()
	lm, err := NewLogManager(tempDir, zaptest.NewLogger(t), Options{FlushInterval: -1})
	require.NoError(t, err)
	return lm, tempDir
}

func readAll(t *testing.T, lm *LogManager) ([]LSN, []string) {
	t.Helper()
	it, err := lm.Iterator()
	require.NoError(t, err)
	defer it.Close()

	var (
		lsns    []LSN
		payload []string
	)
	for {
		lsn, rec, err := it.Next()
		if err == io.EOF {
			return lsns, payload
		}
		require.NoError(t, err)
		lsns = append(lsns, lsn)
		payload = append(payload, string(rec))
	}
}

// --- Test Cases ---

func TestLogManager_AppendAssignsSequentialLSNs(t *testing.T) {
	lm, _ := setupLogManager(t)
	defer lm.Close()

	for i := 1; i <= 3; i++ {
		lsn, err := lm.Append([]byte(fmt.Sprintf("record %d", i)))
		require.NoError(t, err)
		require.Equal(t, LSN(i), lsn, "LSN should be sequential and 1-based")
	}
	require.Equal(t, LSN(3), lm.CurrentLSN())
	require.Equal(t, LSN(0), lm.FlushedLSN(), "nothing forced yet")

	lsns, recs := readAll(t, lm)
	require.Equal(t, []LSN{1, 2, 3}, lsns)
	require.Equal(t, []string{"record 1", "record 2", "record 3"}, recs)
}

func TestLogManager_FlushUpToLSN(t *testing.T) {
	lm, _ := setupLogManager(t)
	defer lm.Close()

	_, err := lm.Append([]byte("a"))
	require.NoError(t, err)
	lsn, err := lm.Append([]byte("b"))
	require.NoError(t, err)

	require.NoError(t, lm.Flush(lsn))
	require.Equal(t, lsn, lm.FlushedLSN())

	// Already durable and negative LSNs are no-ops.
	require.NoError(t, lm.Flush(1))
	require.NoError(t, lm.Flush(-1))

	err = lm.Flush(lsn + 1)
	require.ErrorIs(t, err, ErrLSNNotAppended)
	require.Equal(t, lsn, lm.FlushedLSN())
}

func TestLogManager_BufferOverflowWritesThrough(t *testing.T) {
	dir := t.TempDir()
	lm, err := NewLogManager(dir, zaptest.NewLogger(t), Options{BufferSize: 64, FlushInterval: -1})
	require.NoError(t, err)
	defer lm.Close()

	for i := 0; i < 10; i++ {
		_, err := lm.Append([]byte("0123456789"))
		require.NoError(t, err)
	}
	require.Greater(t, lm.FlushedLSN(), LSN(0), "full buffer must have been forced")

	_, err = lm.Append(make([]byte, 64))
	require.ErrorIs(t, err, ErrLogRecordTooLarge)
}

// TestLogManager_RecoveryAfterRestart simulates a restart: records written by
// one instance must be visible, and LSNs must continue, in the next one.
func TestLogManager_RecoveryAfterRestart(t *testing.T) {
	tempDir := t.TempDir()
	logger := zaptest.NewLogger(t)

	// --- Phase 1: Write data and shutdown ---
	lm1, err := NewLogManager(tempDir, logger, Options{FlushInterval: -1})
	require.NoError(t, err)
	_, err = lm1.Append([]byte("this must survive a restart"))
	require.NoError(t, err)
	require.NoError(t, lm1.Close())

	// --- Phase 2: Recover and continue ---
	lm2, err := NewLogManager(tempDir, logger, Options{FlushInterval: -1})
	require.NoError(t, err)
	defer lm2.Close()
	require.Equal(t, LSN(1), lm2.CurrentLSN())
	require.Equal(t, LSN(1), lm2.FlushedLSN())

	lsn, err := lm2.Append([]byte("after restart"))
	require.NoError(t, err)
	require.Equal(t, LSN(2), lsn)

	_, recs := readAll(t, lm2)
	require.Equal(t, []string{"this must survive a restart", "after restart"}, recs)
}

func TestLogManager_TornTailIsTruncated(t *testing.T) {
	tempDir := t.TempDir()
	lm1, err := NewLogManager(tempDir, nil, Options{FlushInterval: -1})
	require.NoError(t, err)
	_, err = lm1.Append([]byte("complete"))
	require.NoError(t, err)
	require.NoError(t, lm1.Close())

	f, err := os.OpenFile(filepath.Join(tempDir, logFileName), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{2, 0, 0, 0, 0, 0, 0, 0, 9})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lm2, err := NewLogManager(tempDir, nil, Options{FlushInterval: -1})
	require.NoError(t, err)
	defer lm2.Close()
	require.Equal(t, LSN(1), lm2.CurrentLSN())

	lsns, _ := readAll(t, lm2)
	require.Equal(t, []LSN{1}, lsns)
}

func TestLogManager_ZeroFilledTailKeepsLSNSequence(t *testing.T) {
	tempDir := t.TempDir()
	lm1, err := NewLogManager(tempDir, nil, Options{FlushInterval: -1})
	require.NoError(t, err)
	for _, rec := range []string{"one", "two", "three"} {
		_, err = lm1.Append([]byte(rec))
		require.NoError(t, err)
	}
	require.NoError(t, lm1.Close())

	f, err := os.OpenFile(filepath.Join(tempDir, logFileName), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 32))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lm2, err := NewLogManager(tempDir, nil, Options{FlushInterval: -1})
	require.NoError(t, err)
	defer lm2.Close()
	require.Equal(t, LSN(3), lm2.CurrentLSN())

	lsn, err := lm2.Append([]byte("four"))
	require.NoError(t, err)
	require.Equal(t, LSN(4), lsn)

	lsns, recs := readAll(t, lm2)
	require.Equal(t, []LSN{1, 2, 3, 4}, lsns)
	require.Equal(t, []string{"one", "two", "three", "four"}, recs)
}

func TestLogManager_OversizedLengthIsTornTail(t *testing.T) {
	tempDir := t.TempDir()
	lm1, err := NewLogManager(tempDir, nil, Options{FlushInterval: -1})
	require.NoError(t, err)
	_, err = lm1.Append([]byte("complete"))
	require.NoError(t, err)
	require.NoError(t, lm1.Close())

	// lsn 2 with a length field of 0xFFFFFFFF and nothing behind it.
	hdr := []byte{2, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0}
	f, err := os.OpenFile(filepath.Join(tempDir, logFileName), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write(hdr)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lm2, err := NewLogManager(tempDir, nil, Options{FlushInterval: -1})
	require.NoError(t, err)
	defer lm2.Close()
	require.Equal(t, LSN(1), lm2.CurrentLSN())

	info, err := os.Stat(filepath.Join(tempDir, logFileName))
	require.NoError(t, err)
	require.Equal(t, int64(recordHeaderSize+len("complete")), info.Size())
}

func TestLogManager_ConcurrentAppends(t *testing.T) {
	lm, _ := setupLogManager(t)
	defer lm.Close()

	const workers, per = 4, 50
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < per; i++ {
				lsn, err := lm.Append([]byte("x"))
				if err != nil {
					return err
				}
				if err := lm.Flush(lsn); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	lsns, _ := readAll(t, lm)
	require.Len(t, lsns, workers*per)
	for i, lsn := range lsns {
		require.Equal(t, LSN(i+1), lsn)
	}
}

func TestLogManager_BackgroundFlusher(t *testing.T) {
	lm, err := NewLogManager(t.TempDir(), zaptest.NewLogger(t), Options{FlushInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	defer lm.Close()

	lsn, err := lm.Append([]byte("eventually durable"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return lm.FlushedLSN() == lsn }, 2*time.Second, 5*time.Millisecond)
}

func TestLogManager_Closed(t *testing.T) {
	lm, _ := setupLogManager(t)
	require.NoError(t, lm.Close())
	require.NoError(t, lm.Close())

	_, err := lm.Append([]byte("late"))
	require.ErrorIs(t, err, ErrLogClosed)
	require.ErrorIs(t, lm.Flush(10), ErrLogClosed)
}
