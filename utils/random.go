package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateTicketReference returns the opaque reference printed in a ticket's
// QR code, e.g. "TKT-9F2C0A17D3B4E58A6C01".
func GenerateTicketReference() (string, error) {
	code, err := GenerateCode(10)
	if err != nil {
		return "", err
	}
	return "TKT-" + code, nil
}
