package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"donorflow/middleware"
	"donorflow/models"
	"donorflow/services/roster"
	"donorflow/utils"
)

type EventController struct {
	Roster *roster.Service
	Logger *logrus.Logger
}

func NewEventController(rosterSvc *roster.Service, logger *logrus.Logger) *EventController {
	return &EventController{
		Roster: rosterSvc,
		Logger: logger,
	}
}

// eventResponse adds the readiness signal to an event.
type eventResponse struct {
	*models.Event
	Ready bool `json:"ready"`
}

func newEventResponse(event *models.Event) eventResponse {
	return eventResponse{Event: event, Ready: roster.EventReady(event.DonorList)}
}

func (ec *EventController) CreateEvent(c *fiber.Ctx) error {
	var input struct {
		Name           string          `json:"name" validate:"required,max=200"`
		EventDate      string          `json:"event_date"`
		Capacity       int             `json:"capacity" validate:"gte=0"`
		MinGivingLevel decimal.Decimal `json:"min_giving_level"`
		FocusArea      string          `json:"focus_area" validate:"max=100"`
		City           string          `json:"city" validate:"max=100"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var eventDate *time.Time
	if input.EventDate != "" {
		parsed, err := time.Parse("2006-01-02", input.EventDate)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "event_date must be YYYY-MM-DD", err)
		}
		eventDate = &parsed
	}

	event, err := ec.Roster.CreateEvent(c.UserContext(), roster.EventInput{
		Name:           input.Name,
		EventDate:      eventDate,
		Capacity:       input.Capacity,
		MinGivingLevel: input.MinGivingLevel,
		FocusArea:      input.FocusArea,
		City:           input.City,
		CreatedBy:      middleware.Actor(c),
	})
	if err != nil {
		return utils.RespondError(c, "Failed to create event", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(newEventResponse(event)))
}

func (ec *EventController) GetEvent(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", nil)
	}

	event, err := ec.Roster.GetEvent(c.UserContext(), id)
	if err != nil {
		return utils.RespondError(c, "Failed to fetch event", err)
	}
	return c.JSON(utils.SuccessResponse(newEventResponse(event)))
}

// AdvanceEvent moves the event to the next lifecycle status.
func (ec *EventController) AdvanceEvent(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", nil)
	}

	var input struct {
		Status string `json:"status" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	event, err := ec.Roster.AdvanceEvent(c.UserContext(), id, models.EventStatus(input.Status))
	if err != nil {
		return utils.RespondError(c, "Failed to change event status", err)
	}
	return c.JSON(utils.SuccessResponse(newEventResponse(event)))
}
