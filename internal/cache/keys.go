package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func PredictionKey(fingerprint string) string {
	return fmt.Sprintf("prediction:%s", fingerprint)
}

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
