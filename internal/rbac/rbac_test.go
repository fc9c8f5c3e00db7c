package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "employee submit", role: RoleEmployee, action: ActionSubmit, allow: true},
		{name: "employee read", role: RoleEmployee, action: ActionRead, allow: false},
		{name: "employee write", role: RoleEmployee, action: ActionWrite, allow: false},
		{name: "investigator read", role: RoleInvestigator, action: ActionRead, allow: true},
		{name: "investigator write", role: RoleInvestigator, action: ActionWrite, allow: false},
		{name: "officer publish", role: RoleComplianceOfficer, action: ActionPublish, allow: true},
		{name: "officer admin", role: RoleComplianceOfficer, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleSystemAdmin, action: ActionAdmin, allow: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("COMPLIANCE_OFFICER"); got != RoleComplianceOfficer {
		t.Fatalf("Normalize kept role, got %q", got)
	}
	if got := Normalize("superuser"); got != RoleEmployee {
		t.Fatalf("unknown role should normalize to EMPLOYEE, got %q", got)
	}
}
