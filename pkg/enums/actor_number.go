package enums

const (
	glnLength = 13
	eicLength = 16
)

// IsActorNumber reports whether value is a GS1 GLN (13 digits) or an ENTSO-E
// EIC code (16 characters of upper-case letters, digits or '-').
func IsActorNumber(value string) bool {
	switch len(value) {
	case glnLength:
		for _, r := range value {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	case eicLength:
		for _, r := range value {
			if !(r >= '0' && r <= '9') && !(r >= 'A' && r <= 'Z') && r != '-' {
				return false
			}
		}
		return true
	}
	return false
}
