package pagemanager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// --- Page Management ---

// LSN is a Log Sequence Number assigned by the log manager.
type LSN int64

// InvalidLSN marks "no outstanding modification".
const InvalidLSN LSN = -1

const (
	intSize    = 4
	lengthSize = 4
)

var ErrPageOutOfBounds = errors.New("access outside page bounds")

// Page is an in-memory copy of one disk block. Values are stored little endian;
// byte slices and strings carry a uint32 length prefix.
type Page struct {
	data []byte
}

// NewPage creates a zeroed page of the given block size.
func NewPage(size int) *Page {
	return &Page{data: make([]byte, size)}
}

// NewPageFromBytes wraps an existing buffer. The page aliases b.
func NewPageFromBytes(b []byte) *Page {
	return &Page{data: b}
}

func (p *Page) Data() []byte { return p.data }
func (p *Page) Size() int    { return len(p.data) }

// Reset zeroes the page contents.
func (p *Page) Reset() {
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *Page) check(offset, n int) error {
	if offset < 0 || n < 0 || offset+n > len(p.data) {
		return fmt.Errorf("%w: offset %d, length %d, page size %d", ErrPageOutOfBounds, offset, n, len(p.data))
	}
	return nil
}

func (p *Page) GetInt(offset int) (int32, error) {
	if err := p.check(offset, intSize); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(p.data[offset:])), nil
}

func (p *Page) SetInt(offset int, v int32) error {
	if err := p.check(offset, intSize); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(p.data[offset:], uint32(v))
	return nil
}

// GetBytes returns a copy of the length-prefixed byte slice stored at offset.
func (p *Page) GetBytes(offset int) ([]byte, error) {
	if err := p.check(offset, lengthSize); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(p.data[offset:]))
	if err := p.check(offset+lengthSize, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p.data[offset+lengthSize:])
	return out, nil
}

func (p *Page) SetBytes(offset int, b []byte) error {
	if err := p.check(offset, lengthSize+len(b)); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(p.data[offset:], uint32(len(b)))
	copy(p.data[offset+lengthSize:], b)
	return nil
}

func (p *Page) GetString(offset int) (string, error) {
	b, err := p.GetBytes(offset)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *Page) SetString(offset int, s string) error {
	return p.SetBytes(offset, []byte(s))
}

// MaxLength returns the number of bytes needed to store a string of strlen
// characters, assuming the worst case UTF-8 width.
func MaxLength(strlen int) int {
	return lengthSize + strlen*utf8.UTFMax
}
