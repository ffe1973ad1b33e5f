package gamestate

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// RoomCodeAlphabet excludes visually ambiguous characters (I, O, 0, 1).
const RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const RoomCodeLength = 6

// GenerateRoomCode produces a random 6-character code drawn from
// RoomCodeAlphabet using a CSPRNG, suitable for use as an actor name.
func GenerateRoomCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(RoomCodeAlphabet)))
	for i := 0; i < RoomCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(RoomCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeRoomCode upper-cases a user-supplied code; callers should then
// validate it with IsValidRoomCode.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidRoomCode reports whether code is exactly RoomCodeLength characters,
// every one of them drawn from RoomCodeAlphabet.
func IsValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(RoomCodeAlphabet, c) {
			return false
		}
	}
	return true
}
