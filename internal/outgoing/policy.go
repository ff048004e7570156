package outgoing

import (
	"time"

	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/enums"
)

// Policy decides bundle caps and the time window after which open bundles close.
type Policy struct {
	Window          time.Duration
	MaxMessageCount int
	MaxCountByType  map[enums.DocumentType]int
	AssignOnEnqueue bool
}

func PolicyFromConfig(cfg config.BundlingConfig) Policy {
	byType := make(map[enums.DocumentType]int, len(cfg.MaxCountByType))
	for raw, max := range cfg.MaxCountByType {
		if docType, err := enums.ParseDocumentType(raw); err == nil {
			byType[docType] = max
		}
	}
	return Policy{
		Window:          cfg.Window,
		MaxMessageCount: cfg.MaxMessageCount,
		MaxCountByType:  byType,
		AssignOnEnqueue: cfg.AssignOnEnqueue,
	}
}

// MaxFor returns the cap for bundles of documentType.
func (p Policy) MaxFor(documentType enums.DocumentType) int {
	if max, ok := p.MaxCountByType[documentType]; ok && max > 0 {
		return max
	}
	if p.MaxMessageCount > 0 {
		return p.MaxMessageCount
	}
	return 1
}

// CloseCutoff is the creation time at or before which open bundles must be closed.
func (p Policy) CloseCutoff(now time.Time) time.Time {
	return now.Add(-p.Window)
}
