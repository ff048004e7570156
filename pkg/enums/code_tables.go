package enums

import (
	"fmt"
	"sort"
)

// CodeTable is an immutable two-way mapping between an enum and its
// market-document code.
type CodeTable[T ~string] struct {
	name     string
	toCode   map[T]string
	fromCode map[string]T
}

func newCodeTable[T ~string](name string, values []T, codes map[T]string) (*CodeTable[T], error) {
	table := &CodeTable[T]{
		name:     name,
		toCode:   make(map[T]string, len(codes)),
		fromCode: make(map[string]T, len(codes)),
	}

	var missing []string
	for _, value := range values {
		code, ok := codes[value]
		if !ok || code == "" {
			missing = append(missing, string(value))
			continue
		}
		if existing, dup := table.fromCode[code]; dup {
			return nil, fmt.Errorf("%s: code %q mapped by both %q and %q", name, code, existing, value)
		}
		table.toCode[value] = code
		table.fromCode[code] = value
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%s: no code for %v", name, missing)
	}
	if len(codes) != len(values) {
		return nil, fmt.Errorf("%s: %d codes for %d values", name, len(codes), len(values))
	}
	return table, nil
}

// ToCode returns the code for value.
func (t *CodeTable[T]) ToCode(value T) (string, error) {
	code, ok := t.toCode[value]
	if !ok {
		return "", fmt.Errorf("%s: no code for %q", t.name, value)
	}
	return code, nil
}

// FromCode returns the value registered for code.
func (t *CodeTable[T]) FromCode(code string) (T, error) {
	value, ok := t.fromCode[code]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: unknown code %q", t.name, code)
	}
	return value, nil
}

// CodeTables holds the lookup tables used when rendering documents.
// Build it once at startup and pass it to the writers that need it.
type CodeTables struct {
	DocumentTypes   *CodeTable[DocumentType]
	BusinessReasons *CodeTable[BusinessReason]
	ActorRoles      *CodeTable[ActorRole]
}

var documentTypeCodes = map[DocumentType]string{
	DocumentNotifyAggregatedMeasureData:        "E31",
	DocumentNotifyWholesaleServices:            "E31W",
	DocumentNotifyValidatedMeasureData:         "E66",
	DocumentRejectRequestAggregatedMeasureData: "ERR-E74",
	DocumentRejectRequestWholesaleSettlement:   "ERR-D21",
	DocumentConfirmRequestChangeOfSupplier:     "A01-E03",
	DocumentRejectRequestChangeOfSupplier:      "A02-E03",
	DocumentCharacteristicsOfACustomerAtAnAP:   "E44",
	DocumentAcknowledgement:                    "ACK",
}

var businessReasonCodes = map[BusinessReason]string{
	BusinessReasonBalanceFixing:          "D04",
	BusinessReasonPreliminaryAggregation: "D03",
	BusinessReasonWholesaleFixing:        "D05",
	BusinessReasonCorrection:             "D32",
	BusinessReasonMoveIn:                 "E65",
	BusinessReasonChangeOfSupplier:       "E03",
	BusinessReasonPeriodicMetering:       "E23",
}

var actorRoleCodes = map[ActorRole]string{
	ActorRoleEnergySupplier:           "DDQ",
	ActorRoleGridAccessProvider:       "DDM",
	ActorRoleBalanceResponsibleParty:  "DDK",
	ActorRoleMeteredDataResponsible:   "MDR",
	ActorRoleMeteredDataAdministrator: "DGL",
	ActorRoleSystemOperator:           "EZ",
	ActorRoleDataHubAdministrator:     "DDZ",
}

// NewCodeTables builds every table and fails when any enum value lacks a
// code or two values share one.
func NewCodeTables() (*CodeTables, error) {
	documentTypes, err := newCodeTable("document type", validDocumentTypes, documentTypeCodes)
	if err != nil {
		return nil, err
	}
	businessReasons, err := newCodeTable("business reason", validBusinessReasons, businessReasonCodes)
	if err != nil {
		return nil, err
	}
	actorRoles, err := newCodeTable("actor role", validActorRoles, actorRoleCodes)
	if err != nil {
		return nil, err
	}
	return &CodeTables{
		DocumentTypes:   documentTypes,
		BusinessReasons: businessReasons,
		ActorRoles:      actorRoles,
	}, nil
}

// ValidateCodeTables is the startup check run by every binary.
func ValidateCodeTables() error {
	_, err := NewCodeTables()
	return err
}
