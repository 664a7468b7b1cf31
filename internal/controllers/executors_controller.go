package controllers

import (
	"log/slog"
	"net/http"

	"github.com/afrith/dagflow/internal/engine"
	"github.com/afrith/dagflow/internal/util"
	"github.com/afrith/dagflow/pkg/dagflow/domain"
)

type ExecutorsController struct {
	AuthController
	ExecutorsRepo engine.ExecutorRepo
}

func NewExecutorsController(executorsRepo engine.ExecutorRepo, apiKeyHash string) *ExecutorsController {
	return &ExecutorsController{
		ExecutorsRepo:  executorsRepo,
		AuthController: NewAuthController(apiKeyHash),
	}
}

func (c *ExecutorsController) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	slog.Debug("GetExecutors called")

	results, err := c.ExecutorsRepo.GetExecutorsByLastActive(20)
	if err != nil {
		slog.Error("Failed to list executors", "error", err)
		http.Error(w, "failed to list executors", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []*domain.Executor{}
	}
	util.WriteJSONResponse(w, http.StatusOK, results)
}
