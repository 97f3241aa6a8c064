package utils

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// ==================== UUID ====================

func GenerateUUID() uuid.UUID {
	return uuid.New()
}

// ==================== ORDER ID ====================

// GenerateOrderID creates the gateway-facing order identifier.
func GenerateOrderID() string {
	now := time.Now()

	// Format: MS + YYYYMMDDHHMMSS + RANDOM
	randomPart := fmt.Sprintf("%04d", rand.Intn(10000))

	return fmt.Sprintf("MS%s%s", now.Format("20060102150405"), randomPart)
}
