package enums

import "fmt"

// DocumentType identifies the kind of outgoing document a message carries.
type DocumentType string

const (
	DocumentNotifyAggregatedMeasureData        DocumentType = "NotifyAggregatedMeasureData"
	DocumentNotifyWholesaleServices            DocumentType = "NotifyWholesaleServices"
	DocumentNotifyValidatedMeasureData         DocumentType = "NotifyValidatedMeasureData"
	DocumentRejectRequestAggregatedMeasureData DocumentType = "RejectRequestAggregatedMeasureData"
	DocumentRejectRequestWholesaleSettlement   DocumentType = "RejectRequestWholesaleSettlement"
	DocumentConfirmRequestChangeOfSupplier     DocumentType = "ConfirmRequestChangeOfSupplier"
	DocumentRejectRequestChangeOfSupplier      DocumentType = "RejectRequestChangeOfSupplier"
	DocumentCharacteristicsOfACustomerAtAnAP   DocumentType = "CharacteristicsOfACustomerAtAnAP"
	DocumentAcknowledgement                    DocumentType = "Acknowledgement"
)

var validDocumentTypes = []DocumentType{
	DocumentNotifyAggregatedMeasureData,
	DocumentNotifyWholesaleServices,
	DocumentNotifyValidatedMeasureData,
	DocumentRejectRequestAggregatedMeasureData,
	DocumentRejectRequestWholesaleSettlement,
	DocumentConfirmRequestChangeOfSupplier,
	DocumentRejectRequestChangeOfSupplier,
	DocumentCharacteristicsOfACustomerAtAnAP,
	DocumentAcknowledgement,
}

var documentCategories = map[DocumentType]MessageCategory{
	DocumentNotifyAggregatedMeasureData:        MessageCategoryAggregations,
	DocumentNotifyWholesaleServices:            MessageCategoryAggregations,
	DocumentRejectRequestAggregatedMeasureData: MessageCategoryAggregations,
	DocumentRejectRequestWholesaleSettlement:   MessageCategoryAggregations,
	DocumentNotifyValidatedMeasureData:         MessageCategoryMeasureData,
	DocumentConfirmRequestChangeOfSupplier:     MessageCategoryMasterData,
	DocumentRejectRequestChangeOfSupplier:      MessageCategoryMasterData,
	DocumentCharacteristicsOfACustomerAtAnAP:   MessageCategoryMasterData,
	DocumentAcknowledgement:                    MessageCategoryNone,
}

// DocumentTypes returns every known document type.
func DocumentTypes() []DocumentType {
	out := make([]DocumentType, len(validDocumentTypes))
	copy(out, validDocumentTypes)
	return out
}

// IsValid reports whether the value is a known document type.
func (d DocumentType) IsValid() bool {
	for _, candidate := range validDocumentTypes {
		if candidate == d {
			return true
		}
	}
	return false
}

// Category returns the peek category the document type is delivered under.
func (d DocumentType) Category() MessageCategory {
	if category, ok := documentCategories[d]; ok {
		return category
	}
	return MessageCategoryNone
}

// ParseDocumentType converts raw input into DocumentType.
func ParseDocumentType(value string) (DocumentType, error) {
	for _, candidate := range validDocumentTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid document type %q", value)
}
