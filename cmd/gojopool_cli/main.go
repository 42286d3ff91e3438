package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/chzyer/readline"
	"github.com/sushant-115/gojopool/config"
	storageengine "github.com/sushant-115/gojopool/core/storage_engine"
	"github.com/sushant-115/gojopool/core/transaction"
	"github.com/sushant-115/gojopool/core/write_engine/bufferpool"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
	"github.com/sushant-115/gojopool/pkg/logger"
	"go.uber.org/zap"
)

var (
	configPath  = flag.String("config", "", "Path to a YAML config file (defaults are used when empty)")
	historyFile = flag.String("history", "/tmp/gojopool_cli.history", "Readline history file")
)

const helpText = `Commands:
  pin <file> <block>                 pin a block, prints the frame slot
  unpin <slot>                       release one pin on a frame
  getint <slot> <offset>             read an int from a pinned frame
  setint <slot> <offset> <val> [txn] write an int, log it and mark the frame modified
  flush <txn>                        flush every frame modified by txn
  checkpoint                         flush every dirty frame
  available                          number of unpinned frames
  status                             per-frame state and eviction order
  help                               this text
  quit                               exit`

// shell keeps the frames this session has pinned, keyed by slot.
type shell struct {
	engine *storageengine.Engine
	held   map[int]*bufferpool.Frame
	out    io.Writer
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Logger.OutputFile == "" {
		cfg.Logger.OutputFile = "stderr"
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	engine, err := storageengine.Open(cfg, log, nil)
	if err != nil {
		log.Fatal("failed to open storage engine", zap.Error(err))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojopool> ",
		HistoryFile:     *historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		log.Fatal("failed to start readline", zap.Error(err))
	}
	defer rl.Close()

	sh := &shell{engine: engine, held: make(map[int]*bufferpool.Frame), out: rl.Stdout()}
	fmt.Fprintln(sh.out, "gojopool buffer pool shell. Type 'help' for commands.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Error("readline failed", zap.Error(err))
			break
		}
		quit, err := sh.exec(strings.Fields(line))
		if err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
		if quit {
			break
		}
	}

	sh.releaseAll()
	if err := engine.Close(); err != nil {
		log.Error("failed to close storage engine", zap.Error(err))
		os.Exit(1)
	}
}

func (sh *shell) exec(args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	pool := sh.engine.Pool
	switch strings.ToLower(args[0]) {
	case "pin":
		if len(args) != 3 {
			return false, errors.New("usage: pin <file> <block>")
		}
		n, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return false, fmt.Errorf("bad block number %q", args[2])
		}
		f, err := pool.Pin(pagemanager.NewBlockID(args[1], n))
		if err != nil {
			return false, err
		}
		sh.held[f.SlotID()] = f
		fmt.Fprintf(sh.out, "slot %d, pin count %d\n", f.SlotID(), f.PinCount())
	case "unpin":
		f, err := sh.frameArg(args, 2)
		if err != nil {
			return false, err
		}
		if err := pool.Unpin(f); err != nil {
			return false, err
		}
		if !f.IsPinned() {
			delete(sh.held, f.SlotID())
		}
	case "getint":
		f, err := sh.frameArg(args, 3)
		if err != nil {
			return false, err
		}
		off, err := strconv.Atoi(args[2])
		if err != nil {
			return false, fmt.Errorf("bad offset %q", args[2])
		}
		v, err := f.Contents().GetInt(off)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(sh.out, v)
	case "setint":
		return false, sh.setInt(args)
	case "flush":
		if len(args) != 2 {
			return false, errors.New("usage: flush <txn>")
		}
		txn, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return false, fmt.Errorf("bad txn %q", args[1])
		}
		return false, pool.FlushAll(transaction.TxnID(txn))
	case "checkpoint":
		return false, pool.FlushAllPages()
	case "available":
		fmt.Fprintln(sh.out, pool.Available())
	case "status":
		sh.printStatus()
	case "help":
		fmt.Fprintln(sh.out, helpText)
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, try 'help'", args[0])
	}
	return false, nil
}

// frameArg resolves args[1] to a frame this session holds.
func (sh *shell) frameArg(args []string, want int) (*bufferpool.Frame, error) {
	if len(args) < want {
		return nil, fmt.Errorf("%s needs %d arguments", args[0], want-1)
	}
	slot, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, fmt.Errorf("bad slot %q", args[1])
	}
	f, ok := sh.held[slot]
	if !ok {
		return nil, fmt.Errorf("slot %d is not pinned by this session", slot)
	}
	return f, nil
}

func (sh *shell) setInt(args []string) error {
	f, err := sh.frameArg(args, 4)
	if err != nil {
		return err
	}
	off, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("bad offset %q", args[2])
	}
	val, err := strconv.ParseInt(args[3], 10, 32)
	if err != nil {
		return fmt.Errorf("bad value %q", args[3])
	}
	txn := sh.engine.Txns.Next()
	if len(args) > 4 {
		n, err := strconv.ParseInt(args[4], 10, 64)
		if err != nil {
			return fmt.Errorf("bad txn %q", args[4])
		}
		txn = transaction.TxnID(n)
	}

	blk, _ := f.Block()
	old, err := f.Contents().GetInt(off)
	if err != nil {
		return err
	}
	rec := fmt.Sprintf("txn=%d %s off=%d old=%d new=%d", txn, blk, off, old, val)
	lsn, err := sh.engine.Log.Append([]byte(rec))
	if err != nil {
		return err
	}
	if err := f.Contents().SetInt(off, int32(val)); err != nil {
		return err
	}
	f.SetModified(txn, lsn)
	fmt.Fprintf(sh.out, "txn %d, lsn %d\n", txn, lsn)
	return nil
}

func (sh *shell) printStatus() {
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tBLOCK\tPINS\tTXN\tLSN")
	for _, st := range sh.engine.Pool.Status() {
		blk := "-"
		if st.Assigned {
			blk = st.Block.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%d\n", st.SlotID, blk, st.PinCount, st.ModifyingTxn, st.LastLSN)
	}
	tw.Flush()
	fmt.Fprintf(sh.out, "eviction order: %v\n", sh.engine.Pool.EvictionOrder())
}

// releaseAll drops every pin the session still holds.
func (sh *shell) releaseAll() {
	for slot, f := range sh.held {
		for f.IsPinned() {
			if err := sh.engine.Pool.Unpin(f); err != nil {
				break
			}
		}
		delete(sh.held, slot)
	}
}
