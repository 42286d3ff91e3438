// Package storageengine wires the block file manager, the write-ahead log and
// the buffer pool into one unit that binaries open and close together.
package storageengine

import (
	"errors"
	"fmt"

	"github.com/sushant-115/gojopool/config"
	"github.com/sushant-115/gojopool/core/transaction"
	"github.com/sushant-115/gojopool/core/write_engine/bufferpool"
	flushmanager "github.com/sushant-115/gojopool/core/write_engine/flush_manager"
	"github.com/sushant-115/gojopool/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/gojopool/internal/telemetry"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type Engine struct {
	Files *flushmanager.FileManager
	Log   *wal.LogManager
	Pool  *bufferpool.BufferPoolManager
	Txns  *transaction.Generator

	logger *zap.Logger
}

// Open builds the engine described by cfg. A nil meter disables pool metrics.
func Open(cfg config.Config, logger *zap.Logger, meter metric.Meter) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	files, err := flushmanager.NewFileManager(cfg.BufferPool.DataDir, cfg.BufferPool.BlockSize, logger.Named("files"))
	if err != nil {
		return nil, fmt.Errorf("failed to open block files: %w", err)
	}
	log, err := wal.NewLogManager(cfg.WAL.Dir, logger.Named("wal"), cfg.WAL.Options)
	if err != nil {
		files.Close()
		return nil, fmt.Errorf("failed to open write-ahead log: %w", err)
	}

	opts := []bufferpool.Option{
		bufferpool.WithLogger(logger.Named("bufferpool")),
		bufferpool.WithMaxWait(cfg.BufferPool.MaxWait),
	}
	if meter != nil {
		m, err := internaltelemetry.NewBufferPoolMetrics(meter)
		if err != nil {
			log.Close()
			files.Close()
			return nil, fmt.Errorf("failed to create buffer pool metrics: %w", err)
		}
		opts = append(opts, bufferpool.WithMetrics(m))
	}
	pool, err := bufferpool.NewBufferPoolManager(files, log, cfg.BufferPool.NumFrames, opts...)
	if err != nil {
		log.Close()
		files.Close()
		return nil, err
	}

	return &Engine{
		Files:  files,
		Log:    log,
		Pool:   pool,
		Txns:   transaction.NewGenerator(0),
		logger: logger,
	}, nil
}

// Close writes back every dirty frame, then closes the log and the files.
// The pool is flushed before the log closes so forced LSNs can still be synced.
func (e *Engine) Close() error {
	poolErr := e.Pool.Close()
	logErr := e.Log.Close()
	filesErr := e.Files.Close()
	if err := errors.Join(poolErr, logErr, filesErr); err != nil {
		e.logger.Error("engine close failed", zap.Error(err))
		return err
	}
	return nil
}
