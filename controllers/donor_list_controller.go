package controller

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"donorflow/middleware"
	"donorflow/models"
	"donorflow/services/roster"
	"donorflow/utils"
)

type DonorListController struct {
	Roster *roster.Service
	Logger *logrus.Logger
}

func NewDonorListController(rosterSvc *roster.Service, logger *logrus.Logger) *DonorListController {
	return &DonorListController{
		Roster: rosterSvc,
		Logger: logger,
	}
}

// GenerateList builds the event's donor list. Replacing an existing list
// needs "confirm": true; without it the answer is 409 with
// requires_confirmation set.
func (lc *DonorListController) GenerateList(c *fiber.Ctx) error {
	eventID := utils.ParseUint(c.Params("id"))
	if eventID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", nil)
	}

	var input struct {
		Size        int  `json:"size" validate:"gte=0"`
		Confirm     bool `json:"confirm"`
		AutoExclude bool `json:"auto_exclude"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
		}
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	list, err := lc.Roster.Generate(c.UserContext(), eventID, roster.GenerateOptions{
		Size:              input.Size,
		ConfirmRegenerate: input.Confirm,
		AutoExclude:       input.AutoExclude,
		Actor:             middleware.Actor(c),
	})
	if errors.Is(err, roster.ErrRegenerateNotConfirmed) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success":               false,
			"error":                 "Donor list already exists",
			"details":               err.Error(),
			"requires_confirmation": true,
		})
	}
	if err != nil {
		return utils.RespondError(c, "Failed to generate donor list", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(list))
}

func (lc *DonorListController) GetList(c *fiber.Ctx) error {
	eventID := utils.ParseUint(c.Params("id"))
	if eventID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event ID", nil)
	}

	list, err := lc.Roster.GetList(c.UserContext(), eventID)
	if err != nil {
		return utils.RespondError(c, "Failed to fetch donor list", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"list":  list,
		"ready": roster.EventReady(list),
	}))
}

func (lc *DonorListController) GetMemberships(c *fiber.Ctx) error {
	listID := utils.ParseUint(c.Params("listId"))
	if listID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid list ID", nil)
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	memberships, total, err := lc.Roster.ListMemberships(c.UserContext(), listID, roster.MembershipFilter{
		Status: models.MembershipStatus(c.Query("status")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		return utils.RespondError(c, "Failed to fetch memberships", err)
	}

	return c.JSON(utils.SuccessResponse(utils.PaginatedResponse{
		Data:  memberships,
		Total: total,
		Page:  page,
		Limit: limit,
	}))
}

// UpdateMembership records a review decision: approved, or excluded with
// a reason.
func (lc *DonorListController) UpdateMembership(c *fiber.Ctx) error {
	listID := utils.ParseUint(c.Params("listId"))
	membershipID := utils.ParseUint(c.Params("id"))
	if listID == 0 || membershipID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid list or membership ID", nil)
	}

	var input struct {
		Status  string `json:"status" validate:"required,oneof=approved excluded"`
		Reason  string `json:"reason" validate:"max=500"`
		Comment string `json:"comment" validate:"max=2000"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var (
		membership *models.Membership
		err        error
	)
	if models.MembershipStatus(input.Status) == models.MembershipApproved {
		membership, err = lc.Roster.Approve(c.UserContext(), listID, membershipID, middleware.Actor(c), input.Comment)
	} else {
		membership, err = lc.Roster.Exclude(c.UserContext(), listID, membershipID, middleware.Actor(c), input.Reason, input.Comment)
	}
	if err != nil {
		return utils.RespondError(c, "Failed to update membership", err)
	}
	return c.JSON(utils.SuccessResponse(membership))
}

// ReopenMembership sends a decided membership back to pending.
func (lc *DonorListController) ReopenMembership(c *fiber.Ctx) error {
	listID := utils.ParseUint(c.Params("listId"))
	membershipID := utils.ParseUint(c.Params("id"))
	if listID == 0 || membershipID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid list or membership ID", nil)
	}

	var input struct {
		Note string `json:"note" validate:"max=2000"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
		}
	}

	membership, err := lc.Roster.Reopen(c.UserContext(), listID, membershipID, middleware.Actor(c), input.Note)
	if err != nil {
		return utils.RespondError(c, "Failed to reopen membership", err)
	}
	return c.JSON(utils.SuccessResponse(membership))
}

func (lc *DonorListController) RunAutoExclusion(c *fiber.Ctx) error {
	listID := utils.ParseUint(c.Params("listId"))
	if listID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid list ID", nil)
	}

	excluded, err := lc.Roster.RunAutoExclusion(c.UserContext(), listID)
	if err != nil {
		return utils.RespondError(c, "Failed to run auto-exclusion", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"auto_excluded": excluded,
	}))
}
