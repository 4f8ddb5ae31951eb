package fiscal

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Compulink-Dev/fiscal-api/internal/model"
)

// QRCodeData builds the public verification URL printed on the receipt:
// {base}/{deviceID %010d}/{DDMMYYYY}/{globalNo %010d}/{code}, where code is
// the first 16 hex chars of MD5 over the device signature, upper-cased.
// The MD5 here is a legacy shortening of the signature for the printed QR
// only — it is not part of the hash chain.
func QRCodeData(baseURL string, dev *model.Device, r *model.Receipt) string {
	sum := md5.Sum([]byte(r.Signature))
	code := strings.ToUpper(hex.EncodeToString(sum[:]))[:16]

	return fmt.Sprintf("%s/%010d/%s/%010d/%s",
		strings.TrimRight(baseURL, "/"),
		dev.FiscalDeviceID,
		r.Date.Format("02012006"),
		r.GlobalNo,
		code,
	)
}
