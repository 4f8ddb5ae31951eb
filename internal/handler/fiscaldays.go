package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Compulink-Dev/fiscal-api/internal/apierror"
	"github.com/Compulink-Dev/fiscal-api/internal/dto"
	"github.com/Compulink-Dev/fiscal-api/internal/service"
)

type FiscalDaysHandler struct {
	days    service.FiscalDayService
	offline service.OfflineService
	devices service.DeviceService
}

func NewFiscalDaysHandler(days service.FiscalDayService, offline service.OfflineService, devices service.DeviceService) *FiscalDaysHandler {
	return &FiscalDaysHandler{days: days, offline: offline, devices: devices}
}

func (h *FiscalDaysHandler) authorizedDevice(c *gin.Context) (uuid.UUID, bool) {
	company, ok := companyID(c)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := deviceID(c)
	if !ok {
		return uuid.Nil, false
	}
	if _, err := h.devices.Get(c.Request.Context(), company, id); err != nil {
		c.JSON(apierror.FromError(err))
		return uuid.Nil, false
	}
	return id, true
}

// Open godoc
// @Summary      Open a fiscal day
// @Description  Opens the next fiscal day. Online devices report the opening to the revenue authority; if it is unreachable the day opens locally and is reported with the first submission.
// @Tags         fiscaldays
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Device UUID"
// @Success      201  {object} dto.FiscalDayResponse
// @Failure      409  {object} apierror.APIError
// @Router       /v1/devices/{id}/fiscalday/open [post]
func (h *FiscalDaysHandler) Open(c *gin.Context) {
	id, ok := h.authorizedDevice(c)
	if !ok {
		return
	}
	resp, err := h.days.OpenDay(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Close godoc
// @Summary      Close the open fiscal day
// @Description  Validates the day (blocking findings abort the close), freezes the closing counters signature, and reports the closure. Offline devices stay in CloseInitiated until the closing exchange file is acknowledged.
// @Tags         fiscaldays
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Device UUID"
// @Success      200  {object} dto.FiscalDayResponse
// @Failure      409  {object} apierror.BlockedError
// @Router       /v1/devices/{id}/fiscalday/close [post]
func (h *FiscalDaysHandler) Close(c *gin.Context) {
	id, ok := h.authorizedDevice(c)
	if !ok {
		return
	}
	resp, err := h.days.CloseDay(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RetryClose godoc
// @Summary      Retry a failed or stuck fiscal day closure
// @Description  Re-reports the frozen closing signature for a day in CloseInitiated or CloseFailed.
// @Tags         fiscaldays
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Device UUID"
// @Success      200  {object} dto.FiscalDayResponse
// @Router       /v1/devices/{id}/fiscalday/close/retry [post]
func (h *FiscalDaysHandler) RetryClose(c *gin.Context) {
	id, ok := h.authorizedDevice(c)
	if !ok {
		return
	}
	resp, err := h.days.RetryClose(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Status godoc
// @Summary      Current fiscal day status
// @Description  Returns the current day, its running counters, and advisory closure findings.
// @Tags         fiscaldays
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Device UUID"
// @Success      200  {object} dto.FiscalDayResponse
// @Router       /v1/devices/{id}/fiscalday [get]
func (h *FiscalDaysHandler) Status(c *gin.Context) {
	id, ok := h.authorizedDevice(c)
	if !ok {
		return
	}
	resp, err := h.days.GetStatus(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitBatch godoc
// @Summary      Build and upload an offline exchange file
// @Description  Batches the day's pending receipts into the next exchange file and uploads it. When the day is in CloseInitiated the file carries the closing footer.
// @Tags         offline
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Device UUID"
// @Success      200  {object} dto.SubmitFileResponse
// @Failure      502  {object} apierror.APIError
// @Router       /v1/devices/{id}/offline/batch [post]
func (h *FiscalDaysHandler) SubmitBatch(c *gin.Context) {
	id, ok := h.authorizedDevice(c)
	if !ok {
		return
	}
	resp, err := h.offline.SubmitFile(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Reconcile godoc
// @Summary      Reconcile an uploaded exchange file
// @Description  Polls the authority for the file's processing outcome; an accepted closing file completes the fiscal day.
// @Tags         offline
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string               true "Device UUID"
// @Param        body body dto.ReconcileRequest true "Operation to reconcile"
// @Success      200  {object} dto.ReconcileResponse
// @Router       /v1/devices/{id}/offline/reconcile [post]
func (h *FiscalDaysHandler) Reconcile(c *gin.Context) {
	id, ok := h.authorizedDevice(c)
	if !ok {
		return
	}
	var req dto.ReconcileRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.offline.Reconcile(c.Request.Context(), id, req.OperationID)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}
