package transaction

import (
	"strconv"
	"sync/atomic"
)

// TxnID identifies a transaction that modifies buffered pages.
type TxnID int64

// NoTxn means a page has no outstanding modification.
const NoTxn TxnID = -1

func (id TxnID) String() string {
	if id == NoTxn {
		return "none"
	}
	return strconv.FormatInt(int64(id), 10)
}

// Generator hands out monotonically increasing transaction ids.
// The zero value starts at 1.
type Generator struct {
	last atomic.Int64
}

// NewGenerator returns a Generator whose next id is after+1.
func NewGenerator(after TxnID) *Generator {
	g := &Generator{}
	if after > 0 {
		g.last.Store(int64(after))
	}
	return g
}

func (g *Generator) Next() TxnID {
	return TxnID(g.last.Add(1))
}

// Last returns the most recently issued id, or NoTxn if none was issued.
func (g *Generator) Last() TxnID {
	if v := g.last.Load(); v > 0 {
		return TxnID(v)
	}
	return NoTxn
}
