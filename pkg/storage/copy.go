package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// copyStream copies src to dst in BufferSize chunks, checking ctx
// between chunks and reporting progress as it goes. Returns bytes
// written.
func copyStream(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress TransferProgressFunc) (int64, error) {
	buf := make([]byte, BufferSize)
	start := time.Now()

	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)

			if writeErr != nil {
				return written, fmt.Errorf("write failed: %w", writeErr)
			}

			if wn != n {
				return written, io.ErrShortWrite
			}

			if progress != nil {
				progress(makeProgress(written, total, start))
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}

			return written, fmt.Errorf("read failed: %w", readErr)
		}
	}
}

// makeProgress derives the rate and ETA fields from raw byte counts.
func makeProgress(transferred, total int64, start time.Time) TransferProgress {
	p := TransferProgress{
		Transferred: transferred,
		Total:       total,
	}

	if total > 0 {
		p.Percentage = float64(transferred) / float64(total) * 100
	}

	elapsed := time.Since(start).Seconds()
	if elapsed > 0 {
		p.SpeedBPS = float64(transferred) / elapsed
	}

	if p.SpeedBPS > 0 && total > transferred {
		p.ETASeconds = int64(float64(total-transferred) / p.SpeedBPS)
	}

	return p
}
