package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Compulink-Dev/fiscal-api/internal/apierror"
	"github.com/Compulink-Dev/fiscal-api/internal/dto"
	"github.com/Compulink-Dev/fiscal-api/internal/service"
)

type ReceiptsHandler struct {
	svc     service.ReceiptService
	devices service.DeviceService
}

func NewReceiptsHandler(svc service.ReceiptService, devices service.DeviceService) *ReceiptsHandler {
	return &ReceiptsHandler{svc: svc, devices: devices}
}

// authorizedDevice resolves the :id device and enforces company ownership.
func (h *ReceiptsHandler) authorizedDevice(c *gin.Context) (uuid.UUID, bool) {
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

func globalNoParam(c *gin.Context) (int64, bool) {
	n, err := strconv.ParseInt(c.Param("globalNo"), 10, 64)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, apierror.New("Invalid receipt number"))
		return 0, false
	}
	return n, true
}

// Create godoc
// @Summary      Fiscalize a receipt
// @Description  Assigns sequence numbers, links the receipt into the device hash chain, signs it, and (online devices) dispatches async submission to the revenue authority.
// @Tags         receipts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string                   true "Device UUID"
// @Param        body body dto.CreateReceiptRequest true "Receipt content"
// @Success      201  {object} dto.ReceiptResponse
// @Failure      409  {object} apierror.APIError
// @Failure      422  {object} apierror.ValidationError
// @Router       /v1/devices/{id}/receipts [post]
func (h *ReceiptsHandler) Create(c *gin.Context) {
	id, ok := h.authorizedDevice(c)
	if !ok {
		return
	}
	var req dto.CreateReceiptRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.CreateReceipt(c.Request.Context(), id, req)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Get godoc
// @Summary      Get receipt by global number
// @Tags         receipts
// @Produce      json
// @Security     BearerAuth
// @Param        id       path string true "Device UUID"
// @Param        globalNo path int    true "Device-lifetime receipt number"
// @Success      200  {object} dto.ReceiptResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/devices/{id}/receipts/{globalNo} [get]
func (h *ReceiptsHandler) Get(c *gin.Context) {
	id, ok := h.authorizedDevice(c)
	if !ok {
		return
	}
	n, ok := globalNoParam(c)
	if !ok {
		return
	}
	resp, err := h.svc.GetReceipt(c.Request.Context(), id, n)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Verify godoc
// @Summary      Verify receipt integrity
// @Description  Re-encodes the stored receipt and checks its hash, its signature against the device certificate, and its chain link to the predecessor.
// @Tags         receipts
// @Produce      json
// @Security     BearerAuth
// @Param        id       path string true "Device UUID"
// @Param        globalNo path int    true "Device-lifetime receipt number"
// @Success      200  {object} dto.VerifyReceiptResponse
// @Router       /v1/devices/{id}/receipts/{globalNo}/verify [get]
func (h *ReceiptsHandler) Verify(c *gin.Context) {
	id, ok := h.authorizedDevice(c)
	if !ok {
		return
	}
	n, ok := globalNoParam(c)
	if !ok {
		return
	}
	resp, err := h.svc.VerifyReceipt(c.Request.Context(), id, n)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// List godoc
// @Summary      List receipts of a fiscal day
// @Tags         receipts
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  string true "Device UUID"
// @Param        day query int    true "Fiscal day number"
// @Success      200  {object} dto.ReceiptListResponse
// @Router       /v1/devices/{id}/receipts [get]
func (h *ReceiptsHandler) List(c *gin.Context) {
	id, ok := h.authorizedDevice(c)
	if !ok {
		return
	}
	day, err := strconv.Atoi(c.Query("day"))
	if err != nil || day < 1 {
		c.JSON(http.StatusBadRequest, apierror.New("Query parameter 'day' must be a positive integer"))
		return
	}
	resp, err := h.svc.ListReceipts(c.Request.Context(), id, day)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PDF godoc
// @Summary      Download the receipt print form
// @Tags         receipts
// @Produce      application/pdf
// @Security     BearerAuth
// @Param        id       path string true "Device UUID"
// @Param        globalNo path int    true "Device-lifetime receipt number"
// @Success      200
// @Failure      404  {object} apierror.APIError
// @Router       /v1/devices/{id}/receipts/{globalNo}/pdf [get]
func (h *ReceiptsHandler) PDF(c *gin.Context) {
	id, ok := h.authorizedDevice(c)
	if !ok {
		return
	}
	n, ok := globalNoParam(c)
	if !ok {
		return
	}
	path, err := h.svc.GeneratePDF(c.Request.Context(), id, n)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.FileAttachment(path, "receipt.pdf")
}
