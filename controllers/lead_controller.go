package controller

import (
	"context"
	"errors"
	"strings"

	"dripline/models"
	"dripline/sequence"
	"dripline/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// LeadStore is the lead persistence the dashboard needs
type LeadStore interface {
	Create(ctx context.Context, recipient *models.Recipient) error
	Get(ctx context.Context, id string) (*models.Recipient, error)
	List(ctx context.Context, limit, offset int) ([]models.Recipient, int64, error)
}

type LeadController struct {
	Store  LeadStore
	Logger logrus.FieldLogger
}

func NewLeadController(store LeadStore, logger logrus.FieldLogger) *LeadController {
	return &LeadController{
		Store:  store,
		Logger: logger,
	}
}

// CreateLead creates a new lead with validation. New leads start inactive.
func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	var input struct {
		ContactAddress string `json:"contact_address" validate:"omitempty,email"`
		Name           string `json:"name" validate:"omitempty,max=100"`
		Company        string `json:"company" validate:"omitempty,max=200"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	input.ContactAddress = strings.ToLower(strings.TrimSpace(input.ContactAddress))
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	address := input.ContactAddress
	if address != "" {
		if err := checkmail.ValidateFormat(address); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid email address", err)
		}
	}

	lead := models.Recipient{
		ContactAddress: address,
		Name:           strings.TrimSpace(input.Name),
		Company:        strings.TrimSpace(input.Company),
		SequenceStatus: models.StatusInactive,
	}
	if err := lc.Store.Create(c.UserContext(), &lead); err != nil {
		utils.LogError(lc.Logger, "lead_create_failed", err, nil)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create lead", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(lead))
}

// GetLeads returns paginated list of leads
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	page := utils.ParseIntDefault(c.Query("page"), 1)
	limit := utils.ParseIntDefault(c.Query("limit"), 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	leads, total, err := lc.Store.List(c.UserContext(), limit, offset)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch leads", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Success: true,
		Data:    leads,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

// GetLead returns a single lead with its send history
func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	lead, err := lc.Store.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, sequence.ErrNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead", err)
	}

	return c.JSON(utils.SuccessResponse(lead))
}
