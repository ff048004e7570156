package enums

import "fmt"

// BusinessReason classifies why an outgoing message exists.
type BusinessReason string

const (
	BusinessReasonBalanceFixing          BusinessReason = "BalanceFixing"
	BusinessReasonPreliminaryAggregation BusinessReason = "PreliminaryAggregation"
	BusinessReasonWholesaleFixing        BusinessReason = "WholesaleFixing"
	BusinessReasonCorrection             BusinessReason = "Correction"
	BusinessReasonMoveIn                 BusinessReason = "MoveIn"
	BusinessReasonChangeOfSupplier       BusinessReason = "ChangeOfSupplier"
	BusinessReasonPeriodicMetering       BusinessReason = "PeriodicMetering"
)

var validBusinessReasons = []BusinessReason{
	BusinessReasonBalanceFixing,
	BusinessReasonPreliminaryAggregation,
	BusinessReasonWholesaleFixing,
	BusinessReasonCorrection,
	BusinessReasonMoveIn,
	BusinessReasonChangeOfSupplier,
	BusinessReasonPeriodicMetering,
}

func BusinessReasons() []BusinessReason {
	out := make([]BusinessReason, len(validBusinessReasons))
	copy(out, validBusinessReasons)
	return out
}

func (b BusinessReason) IsValid() bool {
	for _, candidate := range validBusinessReasons {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBusinessReason converts raw input into BusinessReason.
func ParseBusinessReason(value string) (BusinessReason, error) {
	for _, candidate := range validBusinessReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid business reason %q", value)
}
