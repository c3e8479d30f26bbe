// internal/api/dto.go

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rovshanmuradov/solver-engine/internal/condition"
	"github.com/rovshanmuradov/solver-engine/internal/errs"
	"github.com/rovshanmuradov/solver-engine/internal/solver"
	"github.com/rovshanmuradov/solver-engine/internal/transfer"
	"github.com/rovshanmuradov/solver-engine/internal/types"
)

// Timestamps and durations travel as unix milliseconds, integers of
// arbitrary size as decimal strings.

// maxWaitMillis is the largest wait that fits a time.Duration.
const maxWaitMillis = math.MaxInt64 / int64(time.Millisecond)

type createTransferRequest struct {
	UserAddress string            `json:"userAddress"`
	Recipient   string            `json:"recipient"`
	SrcToken    string            `json:"srcToken"`
	DestToken   string            `json:"destToken"`
	Amount      types.BigInt      `json:"amount"`
	Fee         types.BigInt      `json:"fee"`
	DestChainID types.BigInt      `json:"destChainId"`
	Conditions  []json.RawMessage `json:"conditions"`
	MaxWaitTime int64             `json:"maxWaitTime"`
	Priority    int               `json:"priority"`
}

// toRequest decodes the conditions one by one so a failure names its index.
// The recipient defaults to the submitting address.
func (r createTransferRequest) toRequest() (transfer.Request, error) {
	conds := make([]condition.Condition, 0, len(r.Conditions))
	for i, raw := range r.Conditions {
		var c condition.Condition
		if err := json.Unmarshal(raw, &c); err != nil {
			var ve *errs.ValidationError
			if errors.As(err, &ve) {
				return transfer.Request{}, errs.Invalid(fmt.Sprintf("conditions[%d].%s", i, ve.Field), "%s", ve.Reason)
			}
			return transfer.Request{}, errs.Invalid(fmt.Sprintf("conditions[%d]", i), "%v", err)
		}
		conds = append(conds, c)
	}

	recipient := r.Recipient
	if recipient == "" {
		recipient = r.UserAddress
	}
	if r.MaxWaitTime < 0 {
		return transfer.Request{}, errs.Invalid("maxWaitTime", "must not be negative")
	}
	if r.MaxWaitTime > maxWaitMillis {
		return transfer.Request{}, errs.Invalid("maxWaitTime", "must not exceed %d ms", maxWaitMillis)
	}

	return transfer.Request{
		Recipient:   recipient,
		SrcToken:    r.SrcToken,
		DestToken:   r.DestToken,
		Amount:      r.Amount.Int,
		Fee:         r.Fee.Int,
		DestChainID: r.DestChainID.Int,
		Conditions:  conds,
		MaxWaitTime: time.Duration(r.MaxWaitTime) * time.Millisecond,
		Priority:    r.Priority,
	}, nil
}

type transferResponse struct {
	ID              string                `json:"id"`
	UserAddress     string                `json:"userAddress"`
	Recipient       string                `json:"recipient"`
	SrcToken        string                `json:"srcToken"`
	DestToken       string                `json:"destToken"`
	Amount          types.BigInt          `json:"amount"`
	Fee             types.BigInt          `json:"fee"`
	DestChainID     types.BigInt          `json:"destChainId"`
	Conditions      []condition.Condition `json:"conditions"`
	MaxWaitTime     int64                 `json:"maxWaitTime"`
	Priority        int                   `json:"priority"`
	CreatedAt       int64                 `json:"createdAt"`
	Status          transfer.Status       `json:"status"`
	RequestID       string                `json:"requestId,omitempty"`
	ConditionsMetAt *int64                `json:"conditionsMetAt,omitempty"`
	FulfilledAt     *int64                `json:"fulfilledAt,omitempty"`
	ExpiredAt       *int64                `json:"expiredAt,omitempty"`
	CancelledAt     *int64                `json:"cancelledAt,omitempty"`
}

func newTransferResponse(t *transfer.Transfer) transferResponse {
	out := transferResponse{
		ID:              t.ID,
		UserAddress:     t.Owner,
		Recipient:       t.Recipient,
		SrcToken:        t.SrcToken,
		DestToken:       t.DestToken,
		Amount:          types.NewBigInt(t.Amount),
		Fee:             types.NewBigInt(t.Fee),
		DestChainID:     types.NewBigInt(t.DestChainID),
		Conditions:      t.Conditions,
		MaxWaitTime:     t.MaxWaitTime.Milliseconds(),
		Priority:        t.Priority,
		CreatedAt:       t.CreatedAt.UnixMilli(),
		Status:          t.Status,
		ConditionsMetAt: millis(t.ConditionsMetAt),
		FulfilledAt:     millis(t.FulfilledAt),
		ExpiredAt:       millis(t.ExpiredAt),
		CancelledAt:     millis(t.CancelledAt),
	}
	if t.RequestID != nil {
		out.RequestID = t.RequestID.Hex()
	}
	return out
}

type statusResponse struct {
	ID            string                `json:"id"`
	Status        transfer.Status       `json:"status"`
	ConditionsMet bool                  `json:"conditionsMet"`
	TimeRemaining int64                 `json:"timeRemaining"`
	Expired       bool                  `json:"expired"`
	Conditions    []condition.Condition `json:"conditions"`
	CreatedAt     int64                 `json:"createdAt"`
	FulfilledAt   *int64                `json:"fulfilledAt,omitempty"`
	RequestID     string                `json:"requestId,omitempty"`
}

func newStatusResponse(r *transfer.StatusReport) statusResponse {
	out := statusResponse{
		ID:            r.ID,
		Status:        r.Status,
		ConditionsMet: r.ConditionsMet,
		TimeRemaining: r.TimeRemaining.Milliseconds(),
		Expired:       r.Expired,
		Conditions:    r.Conditions,
		CreatedAt:     r.CreatedAt.UnixMilli(),
		FulfilledAt:   millis(r.FulfilledAt),
	}
	if r.RequestID != nil {
		out.RequestID = r.RequestID.Hex()
	}
	return out
}

type createSolverRequest struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Agent        *solver.AgentConfig    `json:"agent"`
	Networks     []solver.NetworkConfig `json:"networks"`
	UseV2        *bool                  `json:"useV2"`
	MaxRisk      float64                `json:"maxRisk"`
	MinSolverFee types.BigInt           `json:"minSolverFee"`
}

func (r createSolverRequest) toConfig() solver.Config {
	cfg := solver.Config{
		ID:           r.ID,
		Name:         r.Name,
		Networks:     r.Networks,
		UseV2:        r.UseV2,
		MaxRisk:      r.MaxRisk,
		MinSolverFee: r.MinSolverFee,
	}
	if r.Agent != nil {
		cfg.Agent = *r.Agent
	}
	return cfg
}

type updateStatsRequest struct {
	TradesExecuted *uint64       `json:"tradesExecuted"`
	TotalVolume    *types.BigInt `json:"totalVolume"`
	AverageRisk    *float64      `json:"averageRisk"`
}

func (r updateStatsRequest) toUpdate() solver.StatsUpdate {
	upd := solver.StatsUpdate{
		TradesExecuted: r.TradesExecuted,
		AverageRisk:    r.AverageRisk,
	}
	if r.TotalVolume != nil {
		upd.TotalVolume = r.TotalVolume.Int
	}
	return upd
}

type solverConfigResponse struct {
	Name         string                 `json:"name"`
	Agent        solver.AgentConfig     `json:"agent"`
	Networks     []solver.NetworkConfig `json:"networks"`
	UseV2        bool                   `json:"useV2"`
	MaxRisk      float64                `json:"maxRisk"`
	MinSolverFee types.BigInt           `json:"minSolverFee"`
	Enabled      bool                   `json:"enabled"`
	CreatedAt    int64                  `json:"createdAt"`
	StartedAt    *int64                 `json:"startedAt,omitempty"`
}

type solverStatsResponse struct {
	TradesExecuted uint64       `json:"tradesExecuted"`
	TotalVolume    types.BigInt `json:"totalVolume"`
	AverageRisk    float64      `json:"averageRisk"`
	Uptime         int64        `json:"uptime"` // seconds
}

type solverResponse struct {
	ID        string               `json:"id"`
	Config    solverConfigResponse `json:"config"`
	Status    solver.Status        `json:"status"`
	Stats     solverStatsResponse  `json:"stats"`
	LastError string               `json:"lastError,omitempty"`
}

func newSolverResponse(inst *solver.Instance) solverResponse {
	cfg := inst.Config
	return solverResponse{
		ID: inst.ID,
		Config: solverConfigResponse{
			Name:         cfg.Name,
			Agent:        cfg.Agent,
			Networks:     cfg.Networks,
			UseV2:        cfg.UsesV2(),
			MaxRisk:      cfg.MaxRisk,
			MinSolverFee: cfg.MinSolverFee,
			Enabled:      cfg.Enabled,
			CreatedAt:    cfg.CreatedAt.UnixMilli(),
			StartedAt:    millis(cfg.StartedAt),
		},
		Status: inst.Status,
		Stats: solverStatsResponse{
			TradesExecuted: inst.Stats.TradesExecuted,
			TotalVolume:    types.NewBigInt(inst.Stats.TotalVolume),
			AverageRisk:    inst.Stats.AverageRisk,
			Uptime:         int64(inst.Stats.Uptime / time.Second),
		},
		LastError: inst.LastError,
	}
}

func millis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
