// Package config loads the YAML configuration shared by gojopool binaries.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sushant-115/gojopool/core/write_engine/bufferpool"
	"github.com/sushant-115/gojopool/core/write_engine/wal"
	"github.com/sushant-115/gojopool/pkg/logger"
	"github.com/sushant-115/gojopool/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// BufferPoolConfig sizes the buffer pool and its block store.
type BufferPoolConfig struct {
	// NumFrames is the number of in-memory frames.
	NumFrames int `yaml:"num_frames"`
	// BlockSize is the size in bytes of every block and frame.
	BlockSize int `yaml:"block_size"`
	// MaxWait bounds how long a pin waits for a free frame.
	MaxWait time.Duration `yaml:"max_wait"`
	// DataDir holds the block files.
	DataDir string `yaml:"data_dir"`
}

// WALConfig locates and tunes the write-ahead log.
type WALConfig struct {
	Dir         string `yaml:"dir"`
	wal.Options `yaml:",inline"`
}

type Config struct {
	Logger     logger.Config    `yaml:"logger"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
	BufferPool BufferPoolConfig `yaml:"buffer_pool"`
	WAL        WALConfig        `yaml:"wal"`
}

// Default returns a configuration usable without a file.
func Default() Config {
	return Config{
		Logger: logger.Config{
			Level:  "info",
			Format: "console",
		},
		Telemetry: telemetry.Config{
			ServiceName: "gojopool",
		},
		BufferPool: BufferPoolConfig{
			NumFrames: 8,
			BlockSize: 400,
			MaxWait:   bufferpool.DefaultMaxWait,
			DataDir:   "/tmp/gojopool/data",
		},
		WAL: WALConfig{
			Dir: "/tmp/gojopool/wal",
			Options: wal.Options{
				BufferSize:    wal.DefaultBufferSize,
				FlushInterval: wal.DefaultFlushInterval,
			},
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.BufferPool.NumFrames <= 0 {
		errs = append(errs, fmt.Errorf("buffer_pool.num_frames must be positive, got %d", c.BufferPool.NumFrames))
	}
	if c.BufferPool.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer_pool.block_size must be positive, got %d", c.BufferPool.BlockSize))
	}
	if c.BufferPool.MaxWait <= 0 {
		errs = append(errs, fmt.Errorf("buffer_pool.max_wait must be positive, got %s", c.BufferPool.MaxWait))
	}
	if c.BufferPool.DataDir == "" {
		errs = append(errs, errors.New("buffer_pool.data_dir is required"))
	}
	if c.WAL.Dir == "" {
		errs = append(errs, errors.New("wal.dir is required"))
	}
	if c.WAL.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("wal.buffer_size must not be negative, got %d", c.WAL.BufferSize))
	}
	return errors.Join(errs...)
}
