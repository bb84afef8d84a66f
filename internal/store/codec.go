package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Guizzs26/go-track/internal/models"

	"github.com/golang/snappy"
)

const snappyPrefix = "snappy:"

// encodeRecords serializes the pending list. With compress set the JSON is
// snappy-compressed and base64 wrapped so every backend can keep it as text.
func encodeRecords(records []models.Record, compress bool) (string, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to serialize pending events: %w", err)
	}
	if !compress {
		return string(data), nil
	}
	return snappyPrefix + base64.StdEncoding.EncodeToString(snappy.Encode(nil, data)), nil
}

// decodeRecords accepts both plain and compressed payloads regardless of the
// current compression setting.
func decodeRecords(raw string) ([]models.Record, error) {
	data := []byte(raw)
	if rest, ok := strings.CutPrefix(raw, snappyPrefix); ok {
		compressed, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 in compressed snapshot: %w", err)
		}
		data, err = snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("invalid snappy block: %w", err)
		}
	}

	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse pending events: %w", err)
	}
	return records, nil
}
