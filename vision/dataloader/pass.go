package dataloader

import (
	"context"
	"sync"
)

type batchResult struct {
	batch *Batch
	err   error
}

type batchJob struct {
	indices []int
	out     chan batchResult
}

// Pass is one epoch over a DataLoader with batches assembled in the
// background. Batches are handed out in permutation order no matter which
// worker finished first.
type Pass struct {
	ctx       context.Context
	cancel    context.CancelFunc
	order     chan chan batchResult
	wg        sync.WaitGroup
	total     int
	delivered int
}

// Pass resets the loader and starts background workers for a full pass.
// The caller must drain it with Next or stop it with Close.
func (dl *DataLoader) Pass(ctx context.Context) *Pass {
	dl.reset()
	groups := dl.groups()

	ctx, cancel := context.WithCancel(ctx)
	p := &Pass{
		ctx:    ctx,
		cancel: cancel,
		order:  make(chan chan batchResult, dl.prefetch),
		total:  len(groups),
	}

	jobs := make(chan batchJob)
	for w := 0; w < dl.workers; w++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range jobs {
				batch, err := dl.loadBatch(job.indices)
				job.out <- batchResult{batch: batch, err: err}
			}
		}()
	}

	// The order channel bounds how far production runs ahead of Next.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(p.order)
		defer close(jobs)

		for _, indices := range groups {
			out := make(chan batchResult, 1)
			select {
			case p.order <- out:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- batchJob{indices: indices, out: out}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return p
}

// Len returns the number of batches in the pass.
func (p *Pass) Len() int {
	return p.total
}

// Next blocks until the next batch is ready. It returns nil, nil after the
// last batch and the context error if the pass was cancelled early.
func (p *Pass) Next() (*Batch, error) {
	if p.delivered >= p.total {
		return nil, nil
	}
	if err := p.ctx.Err(); err != nil {
		return nil, err
	}

	out, ok := <-p.order
	if !ok {
		return nil, p.ctx.Err()
	}

	select {
	case r := <-out:
		if r.err != nil {
			return nil, r.err
		}
		p.delivered++
		return r.batch, nil
	case <-p.ctx.Done():
		return nil, p.ctx.Err()
	}
}

// Close stops the workers and waits for them to exit. It is safe to call
// more than once and after the pass is drained.
func (p *Pass) Close() {
	p.cancel()
	p.wg.Wait()
}
