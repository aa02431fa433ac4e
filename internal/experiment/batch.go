package experiment

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/san-kum/pedalstat/internal/config"
)

// BatchResult is the outcome of one study of a batch. Output holds what the
// study printed.
type BatchResult struct {
	Study  string
	Result *Result
	Output []byte
	Err    error
}

// Batch runs independent studies concurrently. Each study gets its own
// Experiment and output buffer; opts apply to all of them.
type Batch struct {
	cfgs []*config.Config
	opts []Option
}

func NewBatch(cfgs []*config.Config, opts ...Option) *Batch {
	return &Batch{cfgs: cfgs, opts: opts}
}

// Run returns one result per study in input order. A failing study does not
// stop the others.
func (b *Batch) Run(ctx context.Context) []BatchResult {
	results := make([]BatchResult, len(b.cfgs))

	var wg sync.WaitGroup
	for i, cfg := range b.cfgs {
		wg.Add(1)
		go func(idx int, cfg *config.Config) {
			defer wg.Done()

			var out bytes.Buffer
			opts := append(append([]Option{}, b.opts...), WithStdout(&out))
			e := New(cfg, opts...)

			res := BatchResult{Study: cfg.Study}
			if err := e.Setup(); err != nil {
				res.Err = fmt.Errorf("%s: %w", cfg.Study, err)
			} else if r, err := e.Run(ctx); err != nil {
				res.Err = fmt.Errorf("%s: %w", cfg.Study, err)
			} else {
				res.Result = r
			}
			res.Output = out.Bytes()
			results[idx] = res
		}(i, cfg)
	}

	wg.Wait()
	return results
}
