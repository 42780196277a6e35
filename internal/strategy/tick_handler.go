package strategy

import (
	"context"

	"github.com/aristath/sentinel-core/internal/apperrors"
	"github.com/aristath/sentinel-core/internal/scheduler"
)

// NewTickHandler adapts Executor.Tick into a C6 scheduler.Handler,
// registered under schedulerHandlerName by whatever wires Manager and
// Executor together at startup.
func NewTickHandler(exec *Executor) scheduler.Handler {
	return func(ctx context.Context, args map[string]any, progress chan<- int) (scheduler.Outcome, error) {
		strategyID, _ := args["strategy_id"].(string)
		if strategyID == "" {
			return scheduler.Outcome{}, apperrors.New(apperrors.BadRequest, "strategy: tick job missing strategy_id arg")
		}
		if err := exec.Tick(ctx, strategyID); err != nil {
			return scheduler.Outcome{}, err
		}
		return scheduler.Outcome{Records: 1, Metadata: map[string]any{"strategy_id": strategyID}}, nil
	}
}
