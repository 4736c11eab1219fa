package controller

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"donorflow/models"
	"donorflow/services/progress"
	"donorflow/utils"
	"donorflow/worker"
)

type ProgressController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Store  progress.Store
	Runner *worker.ImportRunner
}

func NewProgressController(db *gorm.DB, store progress.Store, runner *worker.ImportRunner, logger *logrus.Logger) *ProgressController {
	return &ProgressController{
		DB:     db,
		Logger: logger,
		Store:  store,
		Runner: runner,
	}
}

// GetProgress returns the live snapshot of an import. Once the store entry
// has expired the persisted history answers instead.
func (pc *ProgressController) GetProgress(c *fiber.Ctx) error {
	id := c.Params("operationId")

	op, err := pc.Store.Get(c.UserContext(), id)
	if err == nil {
		return c.JSON(op)
	}
	if !errors.Is(err, progress.ErrNotFound) {
		pc.Logger.WithError(err).WithField("operation_id", id).Warn("Progress store read failed, using history")
	}

	op, err = pc.fromHistory(c, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Operation not found", nil)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch operation", err)
	}
	return c.JSON(op)
}

func (pc *ProgressController) fromHistory(c *fiber.Ctx, id string) (*progress.Operation, error) {
	var history models.ImportOperation
	if err := pc.DB.WithContext(c.UserContext()).Where("id = ?", id).Take(&history).Error; err != nil {
		return nil, err
	}

	op := &progress.Operation{
		ID:          history.ID,
		Status:      progress.Status(history.Status),
		Progress:    history.Progress,
		Message:     history.Message,
		Filename:    history.Filename,
		SubmittedBy: history.SubmittedBy,
		CreatedAt:   history.CreatedAt,
		UpdatedAt:   history.UpdatedAt,
		FinishedAt:  history.FinishedAt,
	}
	if history.Result != "" {
		var result progress.Result
		if err := json.Unmarshal([]byte(history.Result), &result); err != nil {
			pc.Logger.WithError(err).WithField("operation_id", id).Warn("Stored import result is unreadable")
		} else {
			op.Result = &result
		}
	}
	return op, nil
}

// CancelProgress requests cancellation of a running import, or discards a
// finished one. It answers 200 whether or not the id was known.
func (pc *ProgressController) CancelProgress(c *fiber.Ctx) error {
	id := c.Params("operationId")
	if err := pc.Runner.Cancel(c.UserContext(), id); err != nil {
		pc.Logger.WithError(err).WithField("operation_id", id).Warn("Cancel request failed")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Cancellation requested",
	})
}
