package appraisal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ContentHash returns "sha256:<hex>" over the payload's JSON encoding. Object
// keys are emitted sorted, so equal payloads always hash equally.
func ContentHash(canonical map[string]any) (string, error) {
	b, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("encode canonical payload: %w", err)
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
