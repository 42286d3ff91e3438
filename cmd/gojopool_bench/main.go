package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sushant-115/gojopool/config"
	storageengine "github.com/sushant-115/gojopool/core/storage_engine"
	"github.com/sushant-115/gojopool/core/transaction"
	"github.com/sushant-115/gojopool/core/write_engine/bufferpool"
	flushmanager "github.com/sushant-115/gojopool/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
	"github.com/sushant-115/gojopool/pkg/logger"
	"github.com/sushant-115/gojopool/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	configPath  = flag.String("config", "", "Path to a YAML config file (defaults are used when empty)")
	workers     = flag.Int("workers", 4, "Number of concurrent clients")
	duration    = flag.Duration("duration", 10*time.Second, "How long to run")
	opsPerSec   = flag.Float64("rate", 2000, "Total pin operations per second across all workers (0 means unlimited)")
	numBlocks   = flag.Int64("blocks", 64, "Number of distinct blocks in the working set")
	writeRatio  = flag.Float64("write-ratio", 0.3, "Fraction of operations that modify the page")
	flushEvery  = flag.Int("flush-every", 50, "Each worker flushes its transaction after this many writes")
	fileName    = flag.String("file", "bench.dat", "Data file the blocks live in")
	metricsPort = flag.Int("metrics-port", 0, "Serve Prometheus metrics on this port, overriding the config")
)

type result struct {
	ops      atomic.Int64
	writes   atomic.Int64
	timeouts atomic.Int64
	commits  atomic.Int64
}

func main() {
	flag.Parse()
	if *workers <= 0 || *numBlocks < int64(*workers) {
		fmt.Fprintln(os.Stderr, "-workers must be positive and -blocks at least -workers")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *metricsPort > 0 {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.PrometheusPort = *metricsPort
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	runID := uuid.New()
	log = log.With(zap.String("run_id", runID.String()))

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry, log.Named("telemetry"))
	if err != nil {
		log.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			log.Error("telemetry shutdown failed", zap.Error(err))
		}
	}()

	engine, err := storageengine.Open(cfg, log, tel.Meter)
	if err != nil {
		log.Fatal("failed to open storage engine", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	limit := rate.Inf
	if *opsPerSec > 0 {
		limit = rate.Limit(*opsPerSec)
	}
	limiter := rate.NewLimiter(limit, *workers)

	log.Info("starting benchmark",
		zap.Int("workers", *workers),
		zap.Duration("duration", *duration),
		zap.Int("frames", engine.Pool.Size()),
		zap.Int64("blocks", *numBlocks),
	)

	var res result
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		w := &worker{
			id:      i,
			workers: *workers,
			blocks:  *numBlocks,
			file:    *fileName,
			engine:  engine,
			limiter: limiter,
			tracer:  tel.Tracer,
			log:     log.Named("worker").With(zap.Int("worker", i)),
			res:     &res,
			rnd:     rand.New(rand.NewPCG(uint64(i), uint64(start.UnixNano()))),
		}
		g.Go(func() error { return w.run(gctx) })
	}
	runErr := g.Wait()
	elapsed := time.Since(start)

	if err := engine.Close(); err != nil {
		log.Error("failed to close storage engine", zap.Error(err))
	}
	if runErr != nil {
		log.Error("benchmark aborted", zap.Error(runErr))
	}

	st := engine.Pool.Stats()
	fmt.Printf("run %s\n", runID)
	fmt.Printf("  elapsed      %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  operations   %d (%.0f/s)\n", res.ops.Load(), float64(res.ops.Load())/elapsed.Seconds())
	fmt.Printf("  writes       %d\n", res.writes.Load())
	fmt.Printf("  commits      %d\n", res.commits.Load())
	fmt.Printf("  timeouts     %d\n", res.timeouts.Load())
	fmt.Printf("  hits/misses  %d/%d\n", st.Hits, st.Misses)
	fmt.Printf("  evictions    %d\n", st.Evictions)
	fmt.Printf("  page flushes %d\n", st.Flushes)
	if runErr != nil {
		os.Exit(1)
	}
}

// worker only touches blocks congruent to its id modulo workers. Page bytes
// are not guarded by the pool, so disjoint block sets keep the read-modify-write
// in op free of races between workers.
type worker struct {
	id      int
	workers int
	blocks  int64
	file    string
	engine  *storageengine.Engine
	limiter *rate.Limiter
	tracer  trace.Tracer
	log     *zap.Logger
	res     *result
	rnd     *rand.Rand
}

// run pins random blocks until ctx is done. Every write belongs to the
// worker's current transaction, which is flushed and replaced every
// flushEvery writes.
func (w *worker) run(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "bench.worker", trace.WithAttributes(attribute.Int("worker", w.id)))
	defer span.End()

	txn := w.engine.Txns.Next()
	pending := 0
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			break
		}
		blk := w.pickBlock()
		write := w.rnd.Float64() < *writeRatio
		if err := w.op(ctx, blk, txn, write); err != nil {
			if errors.Is(err, flushmanager.ErrAllocationTimeout) {
				w.res.timeouts.Add(1)
				continue
			}
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		w.res.ops.Add(1)
		if !write {
			continue
		}
		w.res.writes.Add(1)
		pending++
		if pending >= *flushEvery {
			if err := w.commit(ctx, txn); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			txn = w.engine.Txns.Next()
			pending = 0
		}
	}
	if pending > 0 {
		return w.commit(ctx, txn)
	}
	return nil
}

// pickBlock returns a random block from the worker's own share of the
// working set.
func (w *worker) pickBlock() pagemanager.BlockID {
	share := (w.blocks - int64(w.id) + int64(w.workers) - 1) / int64(w.workers)
	k := w.rnd.Int64N(share)
	return pagemanager.NewBlockID(w.file, int64(w.id)+k*int64(w.workers))
}

func (w *worker) op(ctx context.Context, blk pagemanager.BlockID, txn transaction.TxnID, write bool) error {
	_, span := w.tracer.Start(ctx, "bench.pin", trace.WithAttributes(
		attribute.String("block", blk.String()),
		attribute.Bool("write", write),
	))
	defer span.End()

	f, err := w.engine.Pool.Pin(blk)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer func() {
		if err := w.engine.Pool.Unpin(f); err != nil {
			w.log.Error("unpin failed", zap.Int("slot", f.SlotID()), zap.Error(err))
		}
	}()

	page := f.Contents()
	v, err := page.GetInt(0)
	if err != nil {
		return err
	}
	if !write {
		return nil
	}
	return w.modify(f, blk, txn, v+1)
}

// modify logs the new value before changing the page so the frame carries
// the LSN that must be durable before the page is written back.
func (w *worker) modify(f *bufferpool.Frame, blk pagemanager.BlockID, txn transaction.TxnID, v int32) error {
	rec := fmt.Appendf(nil, "txn=%d %s off=0 new=%d", txn, blk, v)
	lsn, err := w.engine.Log.Append(rec)
	if err != nil {
		return err
	}
	if err := f.Contents().SetInt(0, v); err != nil {
		return err
	}
	f.SetModified(txn, lsn)
	return nil
}

func (w *worker) commit(ctx context.Context, txn transaction.TxnID) error {
	_, span := w.tracer.Start(ctx, "bench.commit", trace.WithAttributes(attribute.Int64("txn", int64(txn))))
	defer span.End()
	if err := w.engine.Pool.FlushAll(txn); err != nil {
		span.RecordError(err)
		return fmt.Errorf("flushing txn %s: %w", txn, err)
	}
	w.res.commits.Add(1)
	return nil
}
