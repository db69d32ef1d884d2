package publish

import "context"

// Batch accumulates publish params and publishes them sequentially,
// converting individual failures into entries rather than aborting the
// batch. Not safe for concurrent use.
type Batch struct {
	pub    *Publisher
	queued []Params
}

// BatchFailure identifies one failed event in a batch.
type BatchFailure struct {
	EventID string
	Err     error
}

// BatchResult aggregates the outcome of a batch publish.
type BatchResult struct {
	Succeeded  int
	Duplicates int
	Failed     int
	Failures   []BatchFailure
}

// NewBatch creates an empty batch bound to this publisher.
func (p *Publisher) NewBatch() *Batch {
	return &Batch{pub: p}
}

// Add queues one event for the next Publish call.
func (b *Batch) Add(params Params) {
	b.queued = append(b.queued, params)
}

// Len returns the number of queued events.
func (b *Batch) Len() int { return len(b.queued) }

// Publish publishes every queued event in order and drains the queue.
func (b *Batch) Publish(ctx context.Context) BatchResult {
	var result BatchResult
	for _, params := range b.queued {
		res := b.pub.Publish(ctx, params)
		if res.Success {
			result.Succeeded++
			if res.Duplicate {
				result.Duplicates++
			}
			continue
		}
		result.Failed++
		result.Failures = append(result.Failures, BatchFailure{
			EventID: res.EventID,
			Err:     res.Err,
		})
	}
	b.queued = nil
	return result
}
