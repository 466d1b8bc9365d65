package controller

import (
	"errors"

	"dripline/sequence"
	"dripline/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type SequenceController struct {
	Sequencer *sequence.Sequencer
	Logger    logrus.FieldLogger
}

func NewSequenceController(sequencer *sequence.Sequencer, logger logrus.FieldLogger) *SequenceController {
	return &SequenceController{
		Sequencer: sequencer,
		Logger:    logger,
	}
}

// HandleAction applies start, pause, resume or skip to a lead
func (sc *SequenceController) HandleAction(c *fiber.Ctx) error {
	leadID := c.Params("id")

	var input struct {
		Action string `json:"action" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	result, err := sc.Sequencer.Do(c.UserContext(), leadID, input.Action)
	if err != nil {
		return sc.sequenceError(c, leadID, input.Action, err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"recipient": result.Recipient,
		"emailSent": result.EmailSent,
		"record":    result.Record,
	}))
}

// GetStatus reports the lead's sequence progress
func (sc *SequenceController) GetStatus(c *fiber.Ctx) error {
	leadID := c.Params("id")

	status, err := sc.Sequencer.Status(c.UserContext(), leadID)
	if err != nil {
		return sc.sequenceError(c, leadID, "status", err)
	}
	return c.JSON(utils.SuccessResponse(status))
}

// SendManualEmail sends an ad-hoc email that is logged but never counted as a step
func (sc *SequenceController) SendManualEmail(c *fiber.Ctx) error {
	leadID := c.Params("id")

	var input struct {
		Subject string `json:"subject" validate:"required,max=500"`
		HTML    string `json:"html" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	result, err := sc.Sequencer.SendManual(c.UserContext(), leadID, input.Subject, input.HTML)
	if err != nil {
		return sc.sequenceError(c, leadID, "manual", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"recipient": result.Recipient,
		"emailSent": result.EmailSent,
		"record":    result.Record,
	}))
}

func (sc *SequenceController) sequenceError(c *fiber.Ctx, leadID, action string, err error) error {
	switch {
	case errors.Is(err, sequence.ErrNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	case errors.Is(err, sequence.ErrMissingContact):
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Lead has no email address", nil)
	case errors.Is(err, sequence.ErrInvalidAction):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid action", err)
	case errors.Is(err, sequence.ErrSequenceComplete):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Sequence already complete", nil)
	case errors.Is(err, sequence.ErrInvalidState):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Action not allowed in current state", err)
	case errors.Is(err, sequence.ErrBusy), errors.Is(err, sequence.ErrConflict):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is being updated, try again", nil)
	}

	utils.LogError(sc.Logger, "sequence_action_failed", err, map[string]interface{}{
		"lead_id": leadID,
		"action":  action,
	})
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to process sequence action", err)
}
