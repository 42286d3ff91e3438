package pagemanager

import "fmt"

// BlockID identifies a fixed-size block of a named file. It is comparable and
// safe to use as a map key.
type BlockID struct {
	FileName string
	Number   int64
}

func NewBlockID(fileName string, number int64) BlockID {
	return BlockID{FileName: fileName, Number: number}
}

func (b BlockID) String() string {
	return fmt.Sprintf("[file %s, block %d]", b.FileName, b.Number)
}
