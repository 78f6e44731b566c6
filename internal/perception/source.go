package perception

import "context"

// RecordSource is implemented by the host process's platform hooks
// (screen capture, keyboard/mouse listeners). Rewind itself does not
// capture input (spec.md §1 Non-goals); this interface is the seam a host
// shell wires up, and Run below is the only thing in this package that
// calls it.
type RecordSource interface {
	// Records returns a channel of RawRecord that the source closes when
	// ctx is done or the source is exhausted.
	Records(ctx context.Context) (<-chan RawRecord, error)
}

// Run drains source into buf until ctx is cancelled or the source's
// channel closes.
func Run(ctx context.Context, source RecordSource, buf *Buffer) error {
	ch, err := source.Records(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-ch:
			if !ok {
				return nil
			}
			buf.Add(rec)
		}
	}
}
