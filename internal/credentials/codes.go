package credentials

import (
	"crypto/rand"
	"math/big"
)

// pairingCharset avoids ambiguous characters (0/O, 1/I/L) so kids can read
// codes off a parent's screen without mistakes.
const pairingCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GeneratePairingCode generates a random code in the format "XXXX-XXXX".
func GeneratePairingCode() (string, error) {
	code := make([]byte, 9)
	for i := 0; i < 9; i++ {
		if i == 4 {
			code[i] = '-'
			continue
		}
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(pairingCharset))))
		if err != nil {
			return "", err
		}
		code[i] = pairingCharset[num.Int64()]
	}
	return string(code), nil
}
