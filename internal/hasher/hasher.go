// Package hasher builds block manifests: whole-file, per-block and
// first-slice MD5 digests computed in a single pass.
package hasher

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"

	"github.com/go-git/go-billy/v5"
	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/storage"
)

const (
	DefaultBlockSize = int64(4 << 20)
	SliceSize        = int64(256 << 10)
)

// HashFile streams name in blocks of blockSize and returns its manifest.
// A non-positive blockSize selects DefaultBlockSize.
func HashFile(fsys billy.Filesystem, name string, blockSize int64) (*storage.Manifest, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, panerr.NewIoError("open", name, err)
	}
	defer f.Close()

	m, err := HashReader(f, blockSize)
	if err != nil {
		return nil, panerr.NewIoError("read", name, err)
	}
	return m, nil
}

// HashReader is HashFile over an arbitrary reader.
func HashReader(r io.Reader, blockSize int64) (*storage.Manifest, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	var (
		m         = &storage.Manifest{}
		buf       = make([]byte, blockSize)
		whole     = md5.New()
		slice     = md5.New()
		sliceLeft = SliceSize
	)

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			block := buf[:n]
			whole.Write(block)

			if sliceLeft > 0 {
				k := min(int64(n), sliceLeft)
				slice.Write(block[:k])
				sliceLeft -= k
			}

			m.BlockMD5s = append(m.BlockMD5s, blockDigest(block))
			m.Size += uint64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	// the remote rejects empty block lists
	if len(m.BlockMD5s) == 0 {
		m.BlockMD5s = append(m.BlockMD5s, blockDigest(nil))
	}

	m.ContentMD5 = hex.EncodeToString(whole.Sum(nil))
	m.SliceMD5 = hex.EncodeToString(slice.Sum(nil))
	return m, nil
}

// BlockCount is the number of blocks a file of size bytes splits into.
func BlockCount(size uint64, blockSize int64) int {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if size == 0 {
		return 1
	}
	bs := uint64(blockSize)
	return int((size + bs - 1) / bs)
}

func blockDigest(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
