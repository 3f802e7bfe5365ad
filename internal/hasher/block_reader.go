package hasher

import (
	"errors"
	"io"

	"github.com/go-git/go-billy/v5"
	"github.com/gobdpan/bdpan/internal/panerr"
)

// BlockReader yields the blocks of a file in order, using the same
// boundaries as HashFile. An empty file yields one empty block.
type BlockReader struct {
	name    string
	file    billy.File
	buf     []byte
	seq     int
	emitted bool
	done    bool
}

// OpenBlocks opens name for block iteration
func OpenBlocks(fsys billy.Filesystem, name string, blockSize int64) (*BlockReader, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	f, err := fsys.Open(name)
	if err != nil {
		return nil, panerr.NewIoError("open", name, err)
	}

	return &BlockReader{
		name: name,
		file: f,
		buf:  make([]byte, blockSize),
	}, nil
}

// Next returns the next block and its sequence number, or io.EOF.
// The returned slice is only valid until the following call.
func (b *BlockReader) Next() (int, []byte, error) {
	if b.done {
		return 0, nil, io.EOF
	}

	n, err := io.ReadFull(b.file, b.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		b.done = true
	case errors.Is(err, io.EOF):
		b.done = true
		if b.emitted {
			return 0, nil, io.EOF
		}
	default:
		return 0, nil, panerr.NewIoError("read", b.name, err)
	}

	seq := b.seq
	b.seq++
	b.emitted = true
	return seq, b.buf[:n], nil
}

// Close releases the underlying file
func (b *BlockReader) Close() error {
	return b.file.Close()
}
