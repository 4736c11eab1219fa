package controller

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"donorflow/models"
	"donorflow/utils"
)

type DashboardController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewDashboardController(db *gorm.DB, logger *logrus.Logger) *DashboardController {
	return &DashboardController{
		DB:     db,
		Logger: logger,
	}
}

type DashboardStats struct {
	TotalDonors    int64            `json:"total_donors"`
	ExcludedDonors int64            `json:"excluded_donors"`
	DeceasedDonors int64            `json:"deceased_donors"`
	TotalGiving    decimal.Decimal  `json:"total_giving"`
	EventsByStatus map[string]int64 `json:"events_by_status"`

	// Imports started inside the time frame
	ImportsByStatus map[string]int64 `json:"imports_by_status"`
	TimeFrame       string           `json:"time_frame"`
}

type statusCount struct {
	Status string
	Count  int64
}

// timeFrameStart returns the start of the window named by timeFrame
// (hour, day, week or month, default week).
func timeFrameStart(now time.Time, timeFrame string) time.Time {
	switch timeFrame {
	case "hour":
		return now.Add(-1 * time.Hour)
	case "day":
		return now.Add(-24 * time.Hour)
	case "month":
		return now.Add(-30 * 24 * time.Hour)
	default:
		return now.Add(-7 * 24 * time.Hour)
	}
}

// GetDashboardStats returns summary statistics for the dashboard cards
func (dc *DashboardController) GetDashboardStats(c *fiber.Ctx) error {
	timeFrame := c.Query("time_frame", "week")
	now := time.Now()
	startTime := timeFrameStart(now, timeFrame)

	db := dc.DB.WithContext(c.UserContext())
	stats := DashboardStats{
		EventsByStatus:  map[string]int64{},
		ImportsByStatus: map[string]int64{},
		TimeFrame:       timeFrame,
	}

	if err := db.Model(&models.Donor{}).Count(&stats.TotalDonors).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get donor stats", err)
	}
	db.Model(&models.Donor{}).Where("excluded = ?", true).Count(&stats.ExcludedDonors)
	db.Model(&models.Donor{}).Where("deceased = ?", true).Count(&stats.DeceasedDonors)

	var giving []decimal.Decimal
	if err := db.Model(&models.Donor{}).Pluck("total_donations", &giving).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get giving stats", err)
	}
	stats.TotalGiving = decimal.Sum(decimal.Zero, giving...)

	var events []statusCount
	if err := db.Model(&models.Event{}).Select("status, COUNT(*) AS count").Group("status").Scan(&events).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get event stats", err)
	}
	for _, e := range events {
		stats.EventsByStatus[e.Status] = e.Count
	}

	var imports []statusCount
	if err := db.Model(&models.ImportOperation{}).
		Select("status, COUNT(*) AS count").
		Where("created_at BETWEEN ? AND ?", startTime, now).
		Group("status").
		Scan(&imports).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get import stats", err)
	}
	for _, i := range imports {
		stats.ImportsByStatus[i.Status] = i.Count
	}

	return c.JSON(utils.SuccessResponse(stats))
}

// GetRecentImports lists the latest import operations from history.
func (dc *DashboardController) GetRecentImports(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "5"))
	if limit < 1 || limit > 50 {
		limit = 5
	}

	var imports []models.ImportOperation
	if err := dc.DB.WithContext(c.UserContext()).
		Order("created_at DESC").
		Limit(limit).
		Find(&imports).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get recent imports", err)
	}

	return c.JSON(utils.SuccessResponse(imports))
}
