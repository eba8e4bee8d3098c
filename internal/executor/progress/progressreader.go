package progress

import (
	"context"
	"io"
)

// Reader wraps an io.Reader and reports whole percent steps via a callback.
// Reports are monotonic and never exceed 100. When the total is unknown no
// reports are made. Reads fail with the context error once ctx is done.
type Reader struct {
	ctx        context.Context
	reader     io.Reader
	total      int64
	read       int64
	percent    int
	onProgress func(percent int)
}

func NewReader(ctx context.Context, r io.Reader, total int64, cb func(percent int)) *Reader {
	return &Reader{
		ctx:        ctx,
		reader:     r,
		total:      total,
		percent:    -1,
		onProgress: cb,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)

		if pr.total > 0 {
			percent := int(min(pr.read*100/pr.total, 100))
			if percent > pr.percent {
				pr.percent = percent
				pr.onProgress(percent)
			}
		}
	}

	return n, err
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}

// Percent returns the last reported percentage, or -1 before the first report.
func (pr *Reader) Percent() int {
	return pr.percent
}
