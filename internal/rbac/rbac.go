package rbac

type Role string
type Action string

const (
	RoleEmployee          Role = "EMPLOYEE"
	RoleInvestigator      Role = "INVESTIGATOR"
	RoleComplianceOfficer Role = "COMPLIANCE_OFFICER"
	RoleSystemAdmin       Role = "SYSTEM_ADMIN"
)

const (
	ActionRead    Action = "read"
	ActionSubmit  Action = "submit"
	ActionWrite   Action = "write"
	ActionPublish Action = "publish"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleSystemAdmin:
		return true
	case RoleComplianceOfficer:
		return action == ActionRead || action == ActionSubmit || action == ActionWrite || action == ActionPublish
	case RoleInvestigator:
		return action == ActionRead || action == ActionSubmit
	case RoleEmployee:
		return action == ActionSubmit
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleEmployee, RoleInvestigator, RoleComplianceOfficer, RoleSystemAdmin:
		return Role(role)
	default:
		return RoleEmployee
	}
}
