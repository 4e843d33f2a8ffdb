package migrate

import (
	"context"

	"github.com/i5heu/ouroboros-catalog/pkg/model"
)

// TaskPool runs independent jobs and returns their combined errors. The host
// application picks an implementation once at startup; *workerpool.WorkerPool
// satisfies it.
type TaskPool interface {
	Run(jobs []func() error) error
}

// SequentialPool runs jobs one after another on the calling goroutine and
// stops at the first error.
type SequentialPool struct{}

func (SequentialPool) Run(jobs []func() error) error {
	for _, job := range jobs {
		if err := job(); err != nil {
			return err
		}
	}
	return nil
}

// CatalogRefresher is an optional capability of the host: it is told when a
// branch has been rewritten so it can rebuild its catalog views. Without one
// the driver skips the notification.
type CatalogRefresher interface {
	Refresh(ctx context.Context, branch string, head model.Hash) error
}
