package parse

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QRTypeActivation is the only payload type accepted on the scan path.
const QRTypeActivation = "bin_activation"

type qrPayload struct {
	BinID string `json:"binId"`
	Type  string `json:"type"`
}

// ParseQR extracts the bin id from a scanned activation code.
func ParseQR(data string) (string, error) {
	var p qrPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &p); err != nil {
		return "", fmt.Errorf("invalid QR code format: %w", err)
	}
	if p.Type != QRTypeActivation {
		return "", fmt.Errorf("invalid QR code type %q", p.Type)
	}
	if strings.TrimSpace(p.BinID) == "" {
		return "", fmt.Errorf("QR code carries no bin id")
	}
	return strings.TrimSpace(p.BinID), nil
}
