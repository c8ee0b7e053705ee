// Package incremental implements C6, the Incremental Learner: updates a
// deployed model with buffered feedback/late-arriving rows without a full
// retrain (spec.md §4.6). Grounded on pkg/orchestrator/service.go's
// train-evaluate-stage-publish pipeline, reusing its lock discipline via
// pkg/modellock and its dataset-preparation dependency on pkg/dataprep and
// pkg/training.
package incremental

import "sync"

// ringBuffer is a capped FIFO of labeled rows per model (spec.md §4.6
// "Buffering"). Once full, the oldest row is dropped to make room for
// the newest — feedback is a stream, not an archive.
type ringBuffer struct {
	rows []map[string]interface{}
	cap  int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{rows: make([]map[string]interface{}, 0, capacity), cap: capacity}
}

func (b *ringBuffer) push(row map[string]interface{}) {
	if len(b.rows) >= b.cap {
		b.rows = b.rows[1:]
	}
	b.rows = append(b.rows, row)
}

func (b *ringBuffer) len() int { return len(b.rows) }

func (b *ringBuffer) drain() []map[string]interface{} {
	rows := b.rows
	b.rows = make([]map[string]interface{}, 0, b.cap)
	return rows
}

// modelState bundles one model's buffer with its single-flight updater
// flag (spec.md §4.6 "Concurrency").
type modelState struct {
	mu      sync.Mutex
	buffer  *ringBuffer
	updating bool
}
