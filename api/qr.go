package api

import (
	"encoding/base64"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const qrImageSize = 256

// qrDataURL renders code as a PNG data URL. It returns nil for an empty or
// unrenderable code so the JSON field encodes as null.
func (s *Server) qrDataURL(code string) *string {
	if code == "" {
		return nil
	}

	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		s.logger.Warn("api: failed to render QR code", zap.Error(err))
		return nil
	}

	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	return &url
}
