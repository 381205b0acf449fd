package walletconnect

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// PairingQR renders uri as a 256px PNG.
func PairingQR(uri string) ([]byte, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode wallet connect qr code: %w", err)
	}
	return png, nil
}
