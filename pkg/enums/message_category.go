package enums

import (
	"fmt"
	"strings"
)

// MessageCategory groups document types into the queues a receiver peeks.
type MessageCategory string

const (
	MessageCategoryAggregations MessageCategory = "aggregations"
	MessageCategoryMeasureData  MessageCategory = "measure_data"
	MessageCategoryMasterData   MessageCategory = "master_data"
	MessageCategoryNone         MessageCategory = "none"
)

var validMessageCategories = []MessageCategory{
	MessageCategoryAggregations,
	MessageCategoryMeasureData,
	MessageCategoryMasterData,
	MessageCategoryNone,
}

func (c MessageCategory) IsValid() bool {
	for _, candidate := range validMessageCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseMessageCategory accepts the canonical value case-insensitively.
func ParseMessageCategory(value string) (MessageCategory, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validMessageCategories {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid message category %q", value)
}
