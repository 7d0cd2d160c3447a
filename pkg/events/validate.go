package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// recordSchema is the structural contract every record must satisfy before it
// is handed to the producer.
var recordSchema = map[string]any{
	"type": "object",
	"required": []any{
		"type", "event", "timestamp", "messageId",
		"dimensions", "flags", "metrics", "tags", "involves", "properties", "context",
	},
	"properties": map[string]any{
		"type": map[string]any{
			"const": "track",
		},
		"event": map[string]any{
			"type":      "string",
			"minLength": 1,
		},
		"timestamp": map[string]any{
			"type": "string",
		},
		"messageId": map[string]any{
			"type": "string",
		},
		"involves": map[string]any{
			"type":     "array",
			"minItems": 2,
			"maxItems": 2,
		},
		"metrics": map[string]any{
			"type":     "object",
			"required": []any{"node_count"},
			"properties": map[string]any{
				"node_count": map[string]any{
					"type":    "integer",
					"minimum": 0,
				},
			},
		},
	},
}

var (
	ErrNoIdentity       = errors.New("record must carry a userId or an anonymousId")
	ErrBothIdentities   = errors.New("record must not carry both userId and anonymousId")
	ErrInvalidTimestamp = errors.New("record timestamp is not ISO-8601")
	ErrInvalidMessageID = errors.New("record messageId is not a UUID")
)

// Validate rejects malformed records. The structural shape is checked against
// the embedded JSON schema; identity, timestamp, and message-id formats need
// checks the schema cannot express.
func Validate(record *ExecutionRecord) error {
	schemaLoader := gojsonschema.NewGoLoader(recordSchema)
	dataLoader := gojsonschema.NewGoLoader(record)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("record schema validation: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}

		return fmt.Errorf("invalid record: %s", strings.Join(details, "; "))
	}

	if record.UserID == "" && record.AnonymousID == "" {
		return ErrNoIdentity
	}

	if record.UserID != "" && record.AnonymousID != "" {
		return ErrBothIdentities
	}

	if _, err := time.Parse(TimestampLayout, record.Timestamp); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimestamp, record.Timestamp)
	}

	if _, err := uuid.Parse(record.MessageID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMessageID, record.MessageID)
	}

	return nil
}
