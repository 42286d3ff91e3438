package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// --- Write-Ahead Logging (WAL) Constants and Types ---

type LSN = pagemanager.LSN

const (
	logFileName = "wal.log"
	// [lsn int64][length uint32][crc32 uint32]
	recordHeaderSize = 16

	DefaultBufferSize    = 64 * 1024
	DefaultFlushInterval = 200 * time.Millisecond
)

var (
	ErrLogClosed         = errors.New("log manager is closed")
	ErrLogRecordTooLarge = errors.New("log record too large for log buffer")
	ErrLogCorrupt        = errors.New("log record checksum mismatch")
	ErrLSNNotAppended    = errors.New("lsn has not been appended")
)

// Options tunes a LogManager. Zero values select the defaults.
type Options struct {
	// BufferSize is the in-memory buffer size in bytes before a forced write.
	BufferSize int `yaml:"buffer_size"`
	// FlushInterval is how often the background flusher forces the buffer.
	// A negative value disables the background flusher.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LogManager is an append-only write-ahead log. LSNs start at 1 and grow by
// one per record. Flush(lsn) returns only after every record up to lsn is
// synced to disk.
type LogManager struct {
	logDir string
	logger *zap.Logger

	mu         sync.Mutex
	logFile    *os.File
	buffer     *bytes.Buffer
	bufferSize int
	currentLSN LSN // last assigned LSN
	flushedLSN LSN // last LSN known durable
	closed     bool

	flushInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// NewLogManager opens or creates the log in logDir, recovering the last LSN
// from any existing records. A torn record at the tail is truncated away.
func NewLogManager(logDir string, logger *zap.Logger, opts Options) (*LogManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.FlushInterval == 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	path := filepath.Join(logDir, logFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	lastLSN, validSize, err := scanLog(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Truncate(validSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate log tail: %w", err)
	}
	if _, err := f.Seek(validSize, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek log end: %w", err)
	}

	lm := &LogManager{
		logDir:        logDir,
		logger:        logger,
		logFile:       f,
		buffer:        bytes.NewBuffer(make([]byte, 0, opts.BufferSize)),
		bufferSize:    opts.BufferSize,
		currentLSN:    lastLSN,
		flushedLSN:    lastLSN,
		flushInterval: opts.FlushInterval,
		stopChan:      make(chan struct{}),
	}

	if lm.flushInterval > 0 {
		lm.wg.Add(1)
		go lm.flusher()
	}

	logger.Info("log manager initialized",
		zap.String("log_dir", logDir),
		zap.Int64("last_lsn", int64(lastLSN)),
		zap.Int("buffer_size", opts.BufferSize))
	return lm, nil
}

// scanLog walks every complete record and returns the last LSN and the byte
// length of the valid prefix. The prefix ends at the first record that is torn,
// fails its checksum or does not carry the next LSN in sequence, so a
// zero-filled tail never resets the LSN counter.
func scanLog(f *os.File) (LSN, int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to stat log file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("failed to seek log start: %w", err)
	}
	r := bufio.NewReader(f)
	var (
		last  LSN
		valid int64
	)
	for {
		lsn, payload, err := readRecord(r, info.Size()-valid-recordHeaderSize)
		if err != nil || lsn != last+1 {
			return last, valid, nil
		}
		last = lsn
		valid += int64(recordHeaderSize + len(payload))
	}
}

// readRecord reads one record whose payload may be at most maxPayload bytes.
// A longer length field is treated as a torn tail.
func readRecord(r io.Reader, maxPayload int64) (LSN, []byte, error) {
	var hdr [recordHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, io.EOF
		}
		return 0, nil, err
	}
	lsn := LSN(binary.LittleEndian.Uint64(hdr[0:8]))
	n := binary.LittleEndian.Uint32(hdr[8:12])
	sum := binary.LittleEndian.Uint32(hdr[12:16])
	if int64(n) > maxPayload {
		return 0, nil, io.EOF
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, io.EOF
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return 0, nil, fmt.Errorf("%w at lsn %d", ErrLogCorrupt, lsn)
	}
	return lsn, payload, nil
}

// Append buffers rec and returns its LSN. The record is durable only after a
// Flush covering that LSN.
func (lm *LogManager) Append(rec []byte) (LSN, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return pagemanager.InvalidLSN, ErrLogClosed
	}
	size := recordHeaderSize + len(rec)
	if size > lm.bufferSize {
		return pagemanager.InvalidLSN, fmt.Errorf("%w: %d bytes, buffer %d", ErrLogRecordTooLarge, size, lm.bufferSize)
	}
	if lm.buffer.Len()+size > lm.bufferSize {
		if err := lm.flushInternal(); err != nil {
			return pagemanager.InvalidLSN, err
		}
	}

	lm.currentLSN++
	var hdr [recordHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(lm.currentLSN))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(rec)))
	binary.LittleEndian.PutUint32(hdr[12:16], crc32.ChecksumIEEE(rec))
	lm.buffer.Write(hdr[:])
	lm.buffer.Write(rec)
	return lm.currentLSN, nil
}

// Flush makes every record with LSN <= lsn durable. Asking for an LSN that
// was never appended fails with ErrLSNNotAppended.
func (lm *LogManager) Flush(lsn LSN) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lsn <= lm.flushedLSN {
		return nil
	}
	if lm.closed {
		return ErrLogClosed
	}
	if lsn > lm.currentLSN {
		return fmt.Errorf("%w: flush to %d, last appended %d", ErrLSNNotAppended, lsn, lm.currentLSN)
	}
	return lm.flushInternal()
}

// Sync forces the whole buffer to disk.
func (lm *LogManager) Sync() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return ErrLogClosed
	}
	return lm.flushInternal()
}

// flushInternal MUST be called with lm.mu locked.
func (lm *LogManager) flushInternal() error {
	if lm.buffer.Len() > 0 {
		if _, err := lm.logFile.Write(lm.buffer.Bytes()); err != nil {
			return fmt.Errorf("failed to write log buffer: %w", err)
		}
		lm.buffer.Reset()
	}
	if lm.flushedLSN == lm.currentLSN {
		return nil
	}
	if err := lm.logFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	lm.logger.Debug("log flushed",
		zap.Int64("from_lsn", int64(lm.flushedLSN)+1),
		zap.Int64("to_lsn", int64(lm.currentLSN)))
	lm.flushedLSN = lm.currentLSN
	return nil
}

func (lm *LogManager) CurrentLSN() LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.currentLSN
}

func (lm *LogManager) FlushedLSN() LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushedLSN
}

func (lm *LogManager) flusher() {
	defer lm.wg.Done()
	ticker := time.NewTicker(lm.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			lm.mu.Lock()
			if !lm.closed {
				if err := lm.flushInternal(); err != nil {
					lm.logger.Error("background log flush failed", zap.Error(err))
				}
			}
			lm.mu.Unlock()
		case <-lm.stopChan:
			return
		}
	}
}

// Close stops the flusher, forces the buffer and closes the log file.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	if lm.closed {
		lm.mu.Unlock()
		return nil
	}
	lm.closed = true
	lm.mu.Unlock()

	close(lm.stopChan)
	lm.wg.Wait()

	lm.mu.Lock()
	defer lm.mu.Unlock()
	flushErr := lm.flushInternal()
	closeErr := lm.logFile.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Iterator replays durable records in LSN order. It forces the buffer first
// so that every appended record is visible.
func (lm *LogManager) Iterator() (*Iterator, error) {
	if err := lm.Sync(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(lm.logDir, logFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open log for reading: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat log for reading: %w", err)
	}
	return &Iterator{file: f, reader: bufio.NewReader(f), remaining: info.Size()}, nil
}

// Iterator reads log records front to back.
type Iterator struct {
	file      *os.File
	reader    *bufio.Reader
	remaining int64 // unread bytes as of Iterator creation
}

// Next returns the next record, or io.EOF after the last one.
func (it *Iterator) Next() (LSN, []byte, error) {
	lsn, payload, err := readRecord(it.reader, it.remaining-recordHeaderSize)
	if err != nil {
		return 0, nil, err
	}
	it.remaining -= int64(recordHeaderSize + len(payload))
	return lsn, payload, nil
}

func (it *Iterator) Close() error {
	return it.file.Close()
}
