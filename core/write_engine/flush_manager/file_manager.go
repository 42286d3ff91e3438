package flushmanager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// tempFilePrefix marks scratch files that do not survive a restart.
const tempFilePrefix = "temp"

// FileManager reads and writes fixed-size blocks of the files in one directory.
// Writes are synced before Write returns.
type FileManager struct {
	dir       string
	blockSize int
	isNew     bool
	logger    *zap.Logger

	mu        sync.Mutex
	openFiles map[string]*os.File
	closed    bool

	blocksRead    atomic.Int64
	blocksWritten atomic.Int64
}

// FileStats is a snapshot of block I/O counters.
type FileStats struct {
	BlocksRead    int64
	BlocksWritten int64
}

// NewFileManager opens (creating if needed) dir as a block store.
func NewFileManager(dir string, blockSize int, logger *zap.Logger) (*FileManager, error) {
	if blockSize <= 0 {
		return nil, ErrInvalidBlockSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	_, statErr := os.Stat(dir)
	isNew := os.IsNotExist(statErr)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating directory %s: %v", ErrIO, dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading directory %s: %v", ErrIO, dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), tempFilePrefix) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				logger.Warn("failed to remove temp file", zap.String("file", e.Name()), zap.Error(err))
			}
		}
	}

	logger.Info("file manager initialized",
		zap.String("dir", dir),
		zap.Int("block_size", blockSize),
		zap.Bool("new", isNew))

	return &FileManager{
		dir:       dir,
		blockSize: blockSize,
		isNew:     isNew,
		logger:    logger,
		openFiles: make(map[string]*os.File),
	}, nil
}

func (fm *FileManager) BlockSize() int { return fm.blockSize }

// IsNew reports whether the directory was created by this FileManager.
func (fm *FileManager) IsNew() bool { return fm.isNew }

func (fm *FileManager) Stats() FileStats {
	return FileStats{
		BlocksRead:    fm.blocksRead.Load(),
		BlocksWritten: fm.blocksWritten.Load(),
	}
}

func (fm *FileManager) checkArgs(blk pagemanager.BlockID, p *pagemanager.Page) error {
	if blk.FileName == "" || blk.Number < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidBlock, blk)
	}
	if p.Size() != fm.blockSize {
		return fmt.Errorf("%w: page %d bytes, block %d bytes", ErrBlockSizeMismatch, p.Size(), fm.blockSize)
	}
	return nil
}

// Read copies blk into p. Blocks past the end of the file read as zeroes.
func (fm *FileManager) Read(blk pagemanager.BlockID, p *pagemanager.Page) error {
	if err := fm.checkArgs(blk, p); err != nil {
		return err
	}
	fm.mu.Lock()
	defer fm.mu.Unlock()

	f, err := fm.getFile(blk.FileName)
	if err != nil {
		return err
	}
	offset := blk.Number * int64(fm.blockSize)
	n, err := f.ReadAt(p.Data(), offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: reading %s at offset %d: %v", ErrIO, blk, offset, err)
	}
	clear(p.Data()[n:])
	fm.blocksRead.Add(1)
	return nil
}

// Write stores p at blk and syncs the file.
func (fm *FileManager) Write(blk pagemanager.BlockID, p *pagemanager.Page) error {
	if err := fm.checkArgs(blk, p); err != nil {
		return err
	}
	fm.mu.Lock()
	defer fm.mu.Unlock()

	f, err := fm.getFile(blk.FileName)
	if err != nil {
		return err
	}
	offset := blk.Number * int64(fm.blockSize)
	if _, err := f.WriteAt(p.Data(), offset); err != nil {
		return fmt.Errorf("%w: writing %s at offset %d: %v", ErrIO, blk, offset, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", ErrIO, blk.FileName, err)
	}
	fm.blocksWritten.Add(1)
	return nil
}

// Append extends fileName by one zeroed block and returns its id.
func (fm *FileManager) Append(fileName string) (pagemanager.BlockID, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	n, err := fm.lengthInternal(fileName)
	if err != nil {
		return pagemanager.BlockID{}, err
	}
	blk := pagemanager.NewBlockID(fileName, n)
	f, err := fm.getFile(fileName)
	if err != nil {
		return pagemanager.BlockID{}, err
	}
	if _, err := f.WriteAt(make([]byte, fm.blockSize), n*int64(fm.blockSize)); err != nil {
		return pagemanager.BlockID{}, fmt.Errorf("%w: extending %s: %v", ErrIO, fileName, err)
	}
	fm.blocksWritten.Add(1)
	return blk, nil
}

// Length returns the number of blocks in fileName.
func (fm *FileManager) Length(fileName string) (int64, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.lengthInternal(fileName)
}

// lengthInternal MUST be called with fm.mu locked.
func (fm *FileManager) lengthInternal(fileName string) (int64, error) {
	f, err := fm.getFile(fileName)
	if err != nil {
		return 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", ErrIO, fileName, err)
	}
	return fi.Size() / int64(fm.blockSize), nil
}

// getFile MUST be called with fm.mu locked.
func (fm *FileManager) getFile(fileName string) (*os.File, error) {
	if fm.closed {
		return nil, ErrFileManagerClosed
	}
	if f, ok := fm.openFiles[fileName]; ok {
		return f, nil
	}
	if fileName == "" || strings.ContainsAny(fileName, `/\`) {
		return nil, fmt.Errorf("%w: bad file name %q", ErrInvalidBlock, fileName)
	}
	path := filepath.Join(fm.dir, fileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}
	fm.openFiles[fileName] = f
	fm.logger.Debug("opened block file", zap.String("file", fileName))
	return f, nil
}

// Close syncs and closes every open file.
func (fm *FileManager) Close() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.closed {
		return nil
	}
	fm.closed = true

	var firstErr error
	for name, f := range fm.openFiles {
		if err := f.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: syncing %s on close: %v", ErrIO, name, err)
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: closing %s: %v", ErrIO, name, err)
		}
	}
	fm.openFiles = nil
	return firstErr
}
