package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Compulink-Dev/fiscal-api/internal/apierror"
	"github.com/Compulink-Dev/fiscal-api/internal/dto"
	"github.com/Compulink-Dev/fiscal-api/internal/middleware"
	"github.com/Compulink-Dev/fiscal-api/internal/service"
)

type DevicesHandler struct{ svc service.DeviceService }

func NewDevicesHandler(svc service.DeviceService) *DevicesHandler {
	return &DevicesHandler{svc: svc}
}

// companyID extracts the authenticated company from the JWT claims.
func companyID(c *gin.Context) (uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	id, err := uuid.Parse(claims.CompanyID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, apierror.New("Token carries no valid company"))
		return uuid.Nil, false
	}
	return id, true
}

// deviceID parses the :id path parameter.
func deviceID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Invalid device ID"))
		return uuid.Nil, false
	}
	return id, true
}

// Register godoc
// @Summary      Register a fiscal device
// @Description  Verifies the activation key, generates the device signing key and CSR, and obtains the device certificate from the revenue authority.
// @Tags         devices
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.RegisterDeviceRequest true "Device registration"
// @Success      201  {object} dto.DeviceResponse
// @Failure      422  {object} apierror.ValidationError
// @Router       /v1/devices [post]
func (h *DevicesHandler) Register(c *gin.Context) {
	var req dto.RegisterDeviceRequest
	if !bindAndValidate(c, &req) {
		return
	}
	company, ok := companyID(c)
	if !ok {
		return
	}

	resp, err := h.svc.Register(c.Request.Context(), company, req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidActivationKey) {
			c.JSON(http.StatusUnauthorized, apierror.New("Invalid activation key"))
			return
		}
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Get godoc
// @Summary      Get device
// @Tags         devices
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Device UUID"
// @Success      200  {object} dto.DeviceResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/devices/{id} [get]
func (h *DevicesHandler) Get(c *gin.Context) {
	company, ok := companyID(c)
	if !ok {
		return
	}
	id, ok := deviceID(c)
	if !ok {
		return
	}
	resp, err := h.svc.Get(c.Request.Context(), company, id)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Ping godoc
// @Summary      Ping the revenue authority
// @Description  Reports whether the authority is reachable with this device's certificate.
// @Tags         devices
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Device UUID"
// @Success      200  {object} dto.PingResponse
// @Router       /v1/devices/{id}/ping [post]
func (h *DevicesHandler) Ping(c *gin.Context) {
	company, ok := companyID(c)
	if !ok {
		return
	}
	id, ok := deviceID(c)
	if !ok {
		return
	}
	resp, err := h.svc.Ping(c.Request.Context(), company, id)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetConfig godoc
// @Summary      Fetch device configuration from the revenue authority
// @Tags         devices
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Device UUID"
// @Success      200  {object} map[string]any
// @Router       /v1/devices/{id}/config [get]
func (h *DevicesHandler) GetConfig(c *gin.Context) {
	company, ok := companyID(c)
	if !ok {
		return
	}
	id, ok := deviceID(c)
	if !ok {
		return
	}
	cfg, err := h.svc.GetConfig(c.Request.Context(), company, id)
	if err != nil {
		c.JSON(apierror.FromError(err))
		return
	}
	c.JSON(http.StatusOK, cfg)
}
