// internal/scheduler/dispatcher.go

package scheduler

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solver-engine/internal/solver"
	"github.com/rovshanmuradov/solver-engine/internal/transfer"
)

// ErrDispatch wraps every failed hand-off to a solver.
var ErrDispatch = errors.New("dispatch failed")

// Dispatcher hands a transfer whose conditions hold to a solver. A returned
// request id means the hand-off was accepted, not that it settled on chain.
type Dispatcher interface {
	Dispatch(ctx context.Context, t *transfer.Transfer, s *solver.Instance) (common.Hash, error)
}

type DispatcherFunc func(ctx context.Context, t *transfer.Transfer, s *solver.Instance) (common.Hash, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, t *transfer.Transfer, s *solver.Instance) (common.Hash, error) {
	return f(ctx, t, s)
}

// LogDispatcher accepts every hand-off and logs it. The request id is
// keccak256(transferID || solverID), so redelivery yields the same id.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.Named("dispatcher")}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, t *transfer.Transfer, s *solver.Instance) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}

	requestID := RequestID(t.ID, s.ID)
	d.logger.Info("Transfer handed to solver",
		zap.String("transfer_id", t.ID),
		zap.String("solver_id", s.ID),
		zap.String("solver", s.Config.Name),
		zap.String("recipient", t.Recipient),
		zap.String("amount", t.Amount.String()),
		zap.String("dest_chain_id", t.DestChainID.String()),
		zap.String("request_id", requestID.Hex()))
	return requestID, nil
}

// RequestID derives the deterministic request id of a transfer/solver pair.
func RequestID(transferID, solverID string) common.Hash {
	return crypto.Keccak256Hash([]byte(transferID), []byte(solverID))
}
