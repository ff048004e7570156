package enums

import "fmt"

// ActorRole is the market role an actor number acts under.
type ActorRole string

const (
	ActorRoleEnergySupplier           ActorRole = "EnergySupplier"
	ActorRoleGridAccessProvider       ActorRole = "GridAccessProvider"
	ActorRoleBalanceResponsibleParty  ActorRole = "BalanceResponsibleParty"
	ActorRoleMeteredDataResponsible   ActorRole = "MeteredDataResponsible"
	ActorRoleMeteredDataAdministrator ActorRole = "MeteredDataAdministrator"
	ActorRoleSystemOperator           ActorRole = "SystemOperator"
	ActorRoleDataHubAdministrator     ActorRole = "DataHubAdministrator"
)

var validActorRoles = []ActorRole{
	ActorRoleEnergySupplier,
	ActorRoleGridAccessProvider,
	ActorRoleBalanceResponsibleParty,
	ActorRoleMeteredDataResponsible,
	ActorRoleMeteredDataAdministrator,
	ActorRoleSystemOperator,
	ActorRoleDataHubAdministrator,
}

func ActorRoles() []ActorRole {
	out := make([]ActorRole, len(validActorRoles))
	copy(out, validActorRoles)
	return out
}

func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
