package handler

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i2vstudio/api/internal/model"
	"github.com/i2vstudio/api/internal/runner"
	"github.com/i2vstudio/api/internal/service"
	"github.com/i2vstudio/api/pkg/response"
)

type VideoHandler struct {
	service   *service.VideoService
	validator *validator.Validate
	// jobCtx bounds synchronous runs; canceling it stops every running worker
	jobCtx context.Context
}

func NewVideoHandler(ctx context.Context, svc *service.VideoService, v *validator.Validate) *VideoHandler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &VideoHandler{
		service:   svc,
		validator: v,
		jobCtx:    ctx,
	}
}

// Generate handles POST /generate-video. The response is held until the video exists.
func (h *VideoHandler) Generate(c *fiber.Ctx) error {
	file, err := c.FormFile("image")
	if err != nil {
		return response.InvalidRequest(c, "No file uploaded", nil)
	}

	req, err := h.parseRequest(c)
	if err != nil {
		return writeError(c, err)
	}

	result, err := h.service.Generate(h.jobCtx, req, file)
	if err != nil {
		return writeError(c, err)
	}

	return response.OK(c, result)
}

// Start handles POST /api/video/start
func (h *VideoHandler) Start(c *fiber.Ctx) error {
	file, err := c.FormFile("image")
	if err != nil {
		return response.InvalidRequest(c, "No file uploaded", nil)
	}

	req, err := h.parseRequest(c)
	if err != nil {
		return writeError(c, err)
	}

	result, err := h.service.Start(c.Context(), req, file)
	if err != nil {
		return writeError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/video/status/:jobId
func (h *VideoHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.InvalidRequest(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		return writeError(c, err)
	}

	return response.OK(c, result)
}

// Result handles GET /api/video/result/:jobId
func (h *VideoHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.InvalidRequest(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.Context(), jobID)
	if err != nil {
		return writeError(c, err)
	}

	return response.OK(c, result)
}

// parseRequest reads the text fields of the multipart form
func (h *VideoHandler) parseRequest(c *fiber.Ctx) (*model.GenerateVideoRequest, error) {
	req := &model.GenerateVideoRequest{
		Prompt: c.FormValue("prompt"),
	}

	var err error
	if req.FrameCount, err = optionalInt(c, "numFrames"); err != nil {
		return nil, err
	}
	if req.FrameRate, err = optionalInt(c, "frameRate"); err != nil {
		return nil, err
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, &validationError{err: err}
	}
	return req, nil
}

func optionalInt(c *fiber.Ctx, field string) (*int, error) {
	raw := c.FormValue(field)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &service.RequestError{Message: field + " must be an integer"}
	}
	return &n, nil
}

type validationError struct {
	err error
}

func (e *validationError) Error() string {
	return e.err.Error()
}

// writeError maps service and runner errors onto the uniform error body
func writeError(c *fiber.Ctx, err error) error {
	var (
		valErr    *validationError
		reqErr    *service.RequestError
		failedErr *service.JobFailedError
	)

	switch {
	case errors.As(err, &valErr):
		return response.InvalidRequest(c, "Validation failed", formatValidationErrors(valErr.err))
	case errors.As(err, &reqErr):
		return response.InvalidRequest(c, reqErr.Message, nil)
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.As(err, &failedErr):
		return response.Error(c, fiber.StatusConflict, response.CodeJobFailed, failedErr.Message,
			fiber.Map{"errorKind": failedErr.Kind})
	case errors.Is(err, service.ErrJobNotCompleted):
		return response.InvalidRequest(c, "Job not completed yet", nil)
	case errors.Is(err, service.ErrQueueUnavailable):
		return response.ServiceUnavailable(c, "Job queue is not available")
	case errors.Is(err, runner.ErrTimeout):
		return response.Error(c, fiber.StatusGatewayTimeout, response.CodeTimeout,
			service.FailureMessage(model.ErrorKindTimeout), nil)
	case errors.Is(err, runner.ErrCanceled):
		return response.Error(c, fiber.StatusServiceUnavailable, response.CodeCanceled,
			service.FailureMessage(model.ErrorKindCanceled), nil)
	case errors.Is(err, runner.ErrResultNotFound):
		return response.Error(c, fiber.StatusInternalServerError, response.CodeResultNotFound,
			service.FailureMessage(model.ErrorKindResultNotFound), nil)
	case errors.Is(err, runner.ErrWorkerExecution):
		return response.Error(c, fiber.StatusInternalServerError, response.CodeWorkerExecution,
			service.FailureMessage(model.ErrorKindWorkerExecution), nil)
	}

	log.Printf("Request %s %s failed: %v", c.Method(), c.Path(), err)
	return response.ServiceError(c, "Internal Server Error")
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}
