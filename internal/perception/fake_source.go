package perception

import "context"

// FakeSource is a RecordSource backed by a fixed, pre-built slice of
// records, used by the agent-package test suites to drive a Buffer without
// a real platform hook (SPEC_FULL.md §2.1: "a fake/test source used by the
// test suite").
type FakeSource struct {
	Records_ []RawRecord
}

// Records streams Records_ onto a channel, closing it once all records are
// sent or ctx is cancelled.
func (f *FakeSource) Records(ctx context.Context) (<-chan RawRecord, error) {
	out := make(chan RawRecord, len(f.Records_))
	go func() {
		defer close(out)
		for _, r := range f.Records_ {
			select {
			case <-ctx.Done():
				return
			case out <- r:
			}
		}
	}()
	return out, nil
}
