package rbac

type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleScout   Role = "scout"
)

// Permissions is the fixed capability set attached to an organization
// membership. A personal workspace implicitly grants all of them.
type Permissions struct {
	CanVote            bool
	CanSetEnergy       bool
	CanAdvanceLobby    bool
	CanAdvanceOffice   bool
	CanAdvanceContract bool
	CanAccessArchive   bool
	CanAccessVault     bool
	CanEditReleaseDate bool
	CanViewMetrics     bool
}

func All() Permissions {
	return Permissions{
		CanVote:            true,
		CanSetEnergy:       true,
		CanAdvanceLobby:    true,
		CanAdvanceOffice:   true,
		CanAdvanceContract: true,
		CanAccessArchive:   true,
		CanAccessVault:     true,
		CanEditReleaseDate: true,
		CanViewMetrics:     true,
	}
}

// Defaults returns the permission set a membership starts with. Owners and
// managers differ only in contract and vault rights; scouts screen the
// lobby and vote.
func Defaults(role Role) Permissions {
	switch role {
	case RoleOwner:
		return All()
	case RoleManager:
		return Permissions{
			CanVote:            true,
			CanSetEnergy:       true,
			CanAdvanceLobby:    true,
			CanAdvanceOffice:   true,
			CanAccessArchive:   true,
			CanEditReleaseDate: true,
			CanViewMetrics:     true,
		}
	case RoleScout:
		return Permissions{
			CanVote:         true,
			CanSetEnergy:    true,
			CanAdvanceLobby: true,
		}
	default:
		return Permissions{}
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleManager, RoleScout:
		return Role(role)
	default:
		return RoleScout
	}
}
