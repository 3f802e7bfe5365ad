package transfer

import (
	"errors"
	"io"
	"time"

	"github.com/gobdpan/bdpan/internal/panerr"
)

type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Progress is reported while a file transfers
type Progress struct {
	Direction Direction
	Path      string
	Done      int64
	Total     int64
}

type ProgressFunc func(Progress)

const progressInterval = 500 * time.Millisecond

// progressReader tracks the bytes read from a download body. Read errors are
// reported as transport errors so that callers can tell them apart from
// local write failures.
type progressReader struct {
	reader   io.Reader
	op       string
	progress Progress
	callback ProgressFunc
	last     time.Time
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.progress.Done += int64(n)
	}

	if pr.callback != nil {
		now := time.Now()
		if now.Sub(pr.last) > progressInterval || errors.Is(err, io.EOF) {
			pr.callback(pr.progress)
			pr.last = now
		}
	}

	if err != nil && !errors.Is(err, io.EOF) {
		return n, panerr.NewTransportError(pr.op, err)
	}
	return n, err
}
