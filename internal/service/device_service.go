package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Compulink-Dev/fiscal-api/internal/dto"
	"github.com/Compulink-Dev/fiscal-api/internal/model"
	"github.com/Compulink-Dev/fiscal-api/internal/repository"
)

var ErrInvalidActivationKey = errors.New("invalid activation key")

type DeviceService interface {
	// Register provisions a new fiscal device: checks the company's
	// activation key, generates the device signing key and CSR, and obtains
	// the client certificate from the authority.
	Register(ctx context.Context, companyID uuid.UUID, req dto.RegisterDeviceRequest) (*dto.DeviceResponse, error)
	Get(ctx context.Context, companyID, deviceID uuid.UUID) (*dto.DeviceResponse, error)
	// Ping checks authority reachability for the device. Unreachable is a
	// result, not an error.
	Ping(ctx context.Context, companyID, deviceID uuid.UUID) (*dto.PingResponse, error)
	GetConfig(ctx context.Context, companyID, deviceID uuid.UUID) (map[string]any, error)
}

type deviceService struct {
	devices   repository.DeviceRepository
	companies repository.CompanyRepository
	authority Authority
}

func NewDeviceService(
	devices repository.DeviceRepository,
	companies repository.CompanyRepository,
	authority Authority,
) DeviceService {
	return &deviceService{devices: devices, companies: companies, authority: authority}
}

func (s *deviceService) Register(ctx context.Context, companyID uuid.UUID, req dto.RegisterDeviceRequest) (*dto.DeviceResponse, error) {
	company, err := s.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if !company.IsActive {
		return nil, errors.New("company is deactivated")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(company.ActivationKeyHash), []byte(req.ActivationKey)); err != nil {
		return nil, ErrInvalidActivationKey
	}

	keyPEM, csrPEM, err := generateDeviceKeyAndCSR(company.TIN, req.FiscalDeviceID, req.SerialNumber)
	if err != nil {
		return nil, err
	}

	mode := model.ModeOnline
	if req.OperatingMode != "" {
		mode = model.OperatingMode(req.OperatingMode)
	}
	dev := &model.Device{
		ID:             uuid.New(),
		CompanyID:      companyID,
		FiscalDeviceID: req.FiscalDeviceID,
		SerialNumber:   req.SerialNumber,
		ModelName:      req.ModelName,
		ModelVersion:   req.ModelVersion,
		OperatingMode:  mode,
		PrivateKeyPEM:  keyPEM,
		IsActive:       true,
	}

	resp, err := s.authority.RegisterDevice(ctx, dev, req.ActivationKey, csrPEM)
	if err != nil {
		return nil, err
	}
	dev.Certificate = &resp.Certificate
	dev.CertificateValidTill = &resp.CertificateValidTill

	if err := s.devices.Create(ctx, dev); err != nil {
		return nil, err
	}

	log.Info().
		Int("fiscal_device_id", dev.FiscalDeviceID).
		Str("company_id", companyID.String()).
		Str("mode", string(mode)).
		Time("cert_valid_till", resp.CertificateValidTill).
		Msg("device_service: device registered")

	return toDeviceResponse(dev), nil
}

// generateDeviceKeyAndCSR creates the device's P-256 signing key and a
// certificate request for the authority's CA. The key never leaves the
// server.
func generateDeviceKeyAndCSR(tin string, fiscalDeviceID int, serialNumber string) (keyPEM, csrPEM string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate device key: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("marshal device key: %w", err)
	}
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName:   fmt.Sprintf("%s-%010d", serialNumber, fiscalDeviceID),
			Organization: []string{tin},
		},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}, key)
	if err != nil {
		return "", "", fmt.Errorf("create certificate request: %w", err)
	}
	csrPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER}))

	return keyPEM, csrPEM, nil
}

func (s *deviceService) Get(ctx context.Context, companyID, deviceID uuid.UUID) (*dto.DeviceResponse, error) {
	dev, err := s.owned(ctx, companyID, deviceID)
	if err != nil {
		return nil, err
	}
	return toDeviceResponse(dev), nil
}

func (s *deviceService) Ping(ctx context.Context, companyID, deviceID uuid.UUID) (*dto.PingResponse, error) {
	dev, err := s.owned(ctx, companyID, deviceID)
	if err != nil {
		return nil, err
	}
	resp, err := s.authority.Ping(ctx, dev)
	if err != nil {
		return &dto.PingResponse{ServerReachable: false, Error: err.Error()}, nil
	}
	return &dto.PingResponse{ReportingFrequency: resp.ReportingFrequency, ServerReachable: true}, nil
}

func (s *deviceService) GetConfig(ctx context.Context, companyID, deviceID uuid.UUID) (map[string]any, error) {
	dev, err := s.owned(ctx, companyID, deviceID)
	if err != nil {
		return nil, err
	}
	return s.authority.GetConfig(ctx, dev)
}

// owned loads the device and enforces company ownership.
func (s *deviceService) owned(ctx context.Context, companyID, deviceID uuid.UUID) (*model.Device, error) {
	dev, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.CompanyID != companyID {
		return nil, gorm.ErrRecordNotFound
	}
	return dev, nil
}

func toDeviceResponse(dev *model.Device) *dto.DeviceResponse {
	resp := &dto.DeviceResponse{
		ID:                  dev.ID.String(),
		FiscalDeviceID:      dev.FiscalDeviceID,
		SerialNumber:        dev.SerialNumber,
		ModelName:           dev.ModelName,
		ModelVersion:        dev.ModelVersion,
		OperatingMode:       string(dev.OperatingMode),
		LastReceiptGlobalNo: dev.LastReceiptGlobalNo,
		LastFiscalDayNo:     dev.LastFiscalDayNo,
		IsActive:            dev.IsActive,
	}
	if dev.CertificateValidTill != nil {
		till := dev.CertificateValidTill.Format(time.RFC3339)
		resp.CertificateValidTill = &till
	}
	return resp
}
