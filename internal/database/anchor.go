package database

import (
	"encoding/json"
	"fmt"

	"strikekeeper/internal/strikes"
)

// EncodeAnchor serialises a summary anchor for storage as one opaque value.
func EncodeAnchor(anchor strikes.SummaryAnchor) ([]byte, error) {
	data, err := json.Marshal(anchor)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary anchor: %w", err)
	}
	return data, nil
}

// DecodeAnchor parses a stored anchor. Values that do not decode, or that
// lack either identifier, yield nil so the caller recreates the artifact.
func DecodeAnchor(data []byte) *strikes.SummaryAnchor {
	var anchor strikes.SummaryAnchor
	if err := json.Unmarshal(data, &anchor); err != nil {
		return nil
	}
	if anchor.SurfaceID == "" || anchor.ArtifactID == "" {
		return nil
	}
	return &anchor
}
