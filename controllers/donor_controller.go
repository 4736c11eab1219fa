package controller

import (
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"donorflow/middleware"
	"donorflow/models"
	"donorflow/utils"
	"donorflow/worker"
)

type DonorController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Runner *worker.ImportRunner
}

func NewDonorController(db *gorm.DB, runner *worker.ImportRunner, logger *logrus.Logger) *DonorController {
	return &DonorController{
		DB:     db,
		Logger: logger,
		Runner: runner,
	}
}

// ImportDonors accepts a CSV, XLS or XLSX file and starts a background
// import. The response carries the operation id to poll.
func (dc *DonorController) ImportDonors(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File upload required", err)
	}

	f, err := file.Open()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to open file", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to read file", err)
	}

	operationID, err := dc.Runner.Submit(c.UserContext(), worker.Upload{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Data:        data,
		SubmittedBy: middleware.Actor(c),
	})
	if err != nil {
		return utils.RespondError(c, "Failed to start import", err)
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"operationId": operationID,
		"message":     "Import started",
	})
}

// GetDonors returns a paginated donor list. q searches names, excluded
// filters on the global exclusion flag.
func (dc *DonorController) GetDonors(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := dc.DB.WithContext(c.UserContext()).Model(&models.Donor{})

	if search := strings.ToLower(strings.TrimSpace(c.Query("q"))); search != "" {
		pattern := "%" + search + "%"
		query = query.Where(
			"LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(organization_name) LIKE ? OR LOWER(email) LIKE ?",
			pattern, pattern, pattern, pattern,
		)
	}
	if excluded := c.Query("excluded"); excluded != "" {
		flag, err := strconv.ParseBool(excluded)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid excluded filter", err)
		}
		query = query.Where("excluded = ?", flag)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count donors", err)
	}

	var donors []models.Donor
	if err := query.Order("total_donations DESC, id ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&donors).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch donors", err)
	}

	return c.JSON(utils.SuccessResponse(utils.PaginatedResponse{
		Data:  donors,
		Total: total,
		Page:  page,
		Limit: limit,
	}))
}

func (dc *DonorController) GetDonor(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid donor ID", nil)
	}

	var donor models.Donor
	if err := dc.DB.WithContext(c.UserContext()).First(&donor, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Donor not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch donor", err)
	}

	return c.JSON(utils.SuccessResponse(donor))
}

// UpdateDonor applies a manual edit. Identity fields are not editable here
// because they define the donor's identity key. A related_donor_id of 0
// clears the link.
func (dc *DonorController) UpdateDonor(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid donor ID", nil)
	}

	var input struct {
		City           *string   `json:"city" validate:"omitempty,max=100"`
		Tags           *[]string `json:"tags"`
		Excluded       *bool     `json:"excluded"`
		Deceased       *bool     `json:"deceased"`
		RelatedDonorID *uint     `json:"related_donor_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	db := dc.DB.WithContext(c.UserContext())

	var donor models.Donor
	if err := db.First(&donor, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Donor not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch donor", err)
	}

	updates := map[string]interface{}{}
	if input.City != nil {
		updates["city"] = strings.TrimSpace(*input.City)
	}
	if input.Tags != nil {
		updates["tags"] = models.NewTagSet(*input.Tags...)
	}
	if input.Excluded != nil {
		updates["excluded"] = *input.Excluded
	}
	if input.Deceased != nil {
		updates["deceased"] = *input.Deceased
	}
	if input.RelatedDonorID != nil {
		related := *input.RelatedDonorID
		switch {
		case related == 0:
			updates["related_donor_id"] = nil
		case related == donor.ID:
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "A donor cannot be related to itself", nil)
		default:
			var count int64
			if err := db.Model(&models.Donor{}).Where("id = ?", related).Count(&count).Error; err != nil {
				return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check related donor", err)
			}
			if count == 0 {
				return utils.ErrorResponse(c, fiber.StatusBadRequest, "Related donor not found", nil)
			}
			updates["related_donor_id"] = related
		}
	}

	if len(updates) == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "No changes provided", nil)
	}

	if err := db.Model(&donor).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update donor", err)
	}
	if err := db.First(&donor, id).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reload donor", err)
	}

	dc.Logger.WithFields(logrus.Fields{
		"donor_id": donor.ID,
		"actor":    middleware.Actor(c),
		"fields":   len(updates),
	}).Info("Donor updated")

	return c.JSON(utils.SuccessResponse(donor))
}
