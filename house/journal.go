package house

import (
	"context"
	"sync"

	"github.com/cloudx-io/escrowhouse/core"
)

type journalKey struct{}

// journal collects the custody legs one operation has settled.
type journal struct {
	mu   sync.Mutex
	legs []core.Transfer
}

func withJournal(ctx context.Context) (context.Context, *journal) {
	j := &journal{}
	return context.WithValue(ctx, journalKey{}, j), j
}

func (j *journal) record(batch []core.Transfer) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.legs = append(j.legs, batch...)
}

// reversal returns the batch that undoes every recorded leg, last leg first.
// Each leg is paid back on the authority of whoever received it.
func (j *journal) reversal() []core.Transfer {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]core.Transfer, 0, len(j.legs))
	for i := len(j.legs) - 1; i >= 0; i-- {
		leg := j.legs[i]
		out = append(out, core.Transfer{
			Asset:     leg.Asset,
			From:      leg.To,
			To:        leg.From,
			Amount:    leg.Amount,
			Authority: leg.To,
		})
	}
	return out
}

// journaledCustody records settled batches into the journal carried by ctx.
type journaledCustody struct {
	core.CustodyAdapter
}

func (c journaledCustody) Transfer(ctx context.Context, batch ...core.Transfer) error {
	if err := c.CustodyAdapter.Transfer(ctx, batch...); err != nil {
		return err
	}
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.record(batch)
	}
	return nil
}
