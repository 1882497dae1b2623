package tosser

import (
	"context"
	"errors"
	"fmt"

	"github.com/stlalpha/v3ftn/internal/logging"
)

// RunResult combines the inbound and outbound results of one cycle.
type RunResult struct {
	Toss  TossResult
	Spool SpoolResult
}

// RunOnce performs a single toss + spool cycle. Per-file failures are in
// the result; the error reports failures of the cycle itself.
func (t *Tosser) RunOnce(ctx context.Context) (RunResult, error) {
	var res RunResult
	var errs []error

	toss, err := t.ProcessInbound(ctx)
	res.Toss = toss
	if err != nil {
		errs = append(errs, fmt.Errorf("toss: %w", err))
	}

	spool, err := t.Spool(ctx)
	res.Spool = spool
	if err != nil {
		errs = append(errs, fmt.Errorf("spool: %w", err))
	}

	if toss.PacketsProcessed > 0 || spool.Messages > 0 {
		logging.Info("cycle: imported=%d, exported=%d, packets=%d",
			toss.MessagesImported(), spool.Messages, toss.PacketsProcessed)
	}
	for _, e := range toss.Errors {
		logging.Debug("cycle error: %s", e)
	}
	return res, errors.Join(errs...)
}
