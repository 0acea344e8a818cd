package services

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// MaxMemoLength is the ledger's limit for a text memo, in bytes.
const MaxMemoLength = 28

// MemoGenerator derives payment memos from order ids under a secret key
// drawn once per process. The same order id always yields the same memo in
// one process, but nobody without the key can predict it.
type MemoGenerator struct {
	key []byte
}

func NewMemoGenerator() (*MemoGenerator, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate memo key: %w", err)
	}
	return &MemoGenerator{key: key}, nil
}

func NewMemoGeneratorWithKey(key []byte) *MemoGenerator {
	return &MemoGenerator{key: key}
}

func (g *MemoGenerator) Generate(orderID uuid.UUID) string {
	mac := hmac.New(sha256.New, g.key)
	mac.Write(orderID[:])
	return hex.EncodeToString(mac.Sum(nil))[:MaxMemoLength]
}
