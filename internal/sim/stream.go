package sim

import (
	"context"
	"io"
	"time"
)

// Stream writes one CRLF-terminated RMC line per rate tick until ctx is done
// or a write fails. Sentence time is start plus simulated elapsed time, so
// the output does not depend on scheduling jitter.
func Stream(ctx context.Context, w io.Writer, tr Track, rate time.Duration, start time.Time) error {
	if rate <= 0 {
		rate = 100 * time.Millisecond
	}
	tick := time.NewTicker(rate)
	defer tick.Stop()

	for n := 0; ; n++ {
		if ctx.Err() != nil {
			return nil
		}
		elapsed := time.Duration(n) * rate
		p, crs := tr.Position(elapsed)
		if _, err := io.WriteString(w, RMC(p, tr.SpeedKmh, crs, start.Add(elapsed))+"\r\n"); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// Open runs Stream on a goroutine and returns the read side. Closing the
// reader stops the stream.
func Open(ctx context.Context, tr Track, rate time.Duration) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		err := Stream(ctx, pw, tr, rate, time.Now().UTC())
		_ = pw.CloseWithError(err)
	}()
	return pr
}
