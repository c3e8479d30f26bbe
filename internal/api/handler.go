// internal/api/handler.go

package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solver-engine/internal/solver"
	"github.com/rovshanmuradov/solver-engine/internal/transfer"
)

type Handler struct {
	transfers *transfer.Manager
	solvers   *solver.Supervisor
	logger    *zap.Logger
}

func NewHandler(transfers *transfer.Manager, solvers *solver.Supervisor, logger *zap.Logger) *Handler {
	return &Handler{
		transfers: transfers,
		solvers:   solvers,
		logger:    logger.Named("api"),
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ListTransfers(c *gin.Context) {
	owner := c.Query("userAddress")
	if owner == "" {
		h.badRequest(c, "userAddress query parameter is required")
		return
	}

	list, err := h.transfers.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, err)
		return
	}

	out := make([]transferResponse, 0, len(list))
	for _, t := range list {
		out = append(out, newTransferResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"transfers": out})
}

func (h *Handler) CreateTransfer(c *gin.Context) {
	var body createTransferRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if body.UserAddress == "" {
		h.badRequest(c, "userAddress is required")
		return
	}

	req, err := body.toRequest()
	if err != nil {
		h.fail(c, err)
		return
	}

	t, err := h.transfers.Create(c.Request.Context(), req, body.UserAddress)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transfer": newTransferResponse(t)})
}

func (h *Handler) GetTransfer(c *gin.Context) {
	t, err := h.transfers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfer": newTransferResponse(t)})
}

// CancelTransfer cancels a pending transfer. Cancelling a transfer that has
// already left pending succeeds and reports its current state.
func (h *Handler) CancelTransfer(c *gin.Context) {
	t, err := h.transfers.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transfer": newTransferResponse(t)})
}

func (h *Handler) TransferStatus(c *gin.Context) {
	report, err := h.transfers.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(report))
}

func (h *Handler) ListSolvers(c *gin.Context) {
	list, err := h.solvers.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	out := make([]solverResponse, 0, len(list))
	for _, inst := range list {
		out = append(out, newSolverResponse(inst))
	}
	c.JSON(http.StatusOK, gin.H{"solvers": out})
}

func (h *Handler) CreateSolver(c *gin.Context) {
	var body createSolverRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}

	inst, err := h.solvers.Create(c.Request.Context(), body.toConfig())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"solver": newSolverResponse(inst)})
}

func (h *Handler) GetSolver(c *gin.Context) {
	h.respondSolver(c, h.solvers.Status)
}

func (h *Handler) StartSolver(c *gin.Context) {
	h.respondSolver(c, h.solvers.Start)
}

func (h *Handler) StopSolver(c *gin.Context) {
	h.respondSolver(c, h.solvers.Stop)
}

func (h *Handler) UpdateSolverStats(c *gin.Context) {
	var body updateStatsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}

	inst, err := h.solvers.UpdateStats(c.Request.Context(), c.Param("id"), body.toUpdate())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"solver": newSolverResponse(inst)})
}

func (h *Handler) DeleteSolver(c *gin.Context) {
	if err := h.solvers.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) respondSolver(c *gin.Context, op func(ctx context.Context, id string) (*solver.Instance, error)) {
	inst, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"solver": newSolverResponse(inst)})
}
