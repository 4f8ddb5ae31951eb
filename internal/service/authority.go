package service

import (
	"context"
	"time"

	"github.com/Compulink-Dev/fiscal-api/internal/infra"
	"github.com/Compulink-Dev/fiscal-api/internal/model"
)

// Authority is the slice of the revenue authority API the services call
// directly. *infra.FDMSClient satisfies it; tests substitute a fake.
// Receipt submission is not here — it goes through the worker queue.
type Authority interface {
	RegisterDevice(ctx context.Context, dev *model.Device, activationKey, csrPEM string) (*infra.RegisterDeviceResponse, error)
	OpenDay(ctx context.Context, dev *model.Device, dayNo int, openedAt time.Time) (*infra.OpenDayResponse, error)
	CloseDay(ctx context.Context, dev *model.Device, dayNo int, counters []infra.CounterPayload, sig infra.SignaturePayload, receiptCounter int) (*infra.CloseDayResponse, error)
	SubmitFile(ctx context.Context, dev *model.Device, file *infra.ExchangeFile) (*infra.FileResponse, error)
	GetFileStatus(ctx context.Context, dev *model.Device, operationID string, dayNo int) (*infra.FileStatusResponse, error)
	Ping(ctx context.Context, dev *model.Device) (*infra.PingResponse, error)
	GetConfig(ctx context.Context, dev *model.Device) (map[string]any, error)
}
