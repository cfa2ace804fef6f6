package clinic

import "github.com/google/uuid"

// Role is the staff role an authenticated caller acts under.
type Role string

const (
	RoleReceptionist        Role = "RECEPTIONIST"
	RoleBillingOfficer      Role = "BILLING_OFFICER"
	RoleNurse               Role = "NURSE"
	RoleDoctor              Role = "DOCTOR"
	RoleLabTechnician       Role = "LAB_TECHNICIAN"
	RoleRadiologyTechnician Role = "RADIOLOGY_TECHNICIAN"
	RolePharmacist          Role = "PHARMACIST"
	RoleAdmin               Role = "ADMIN"

	// RoleSystem is used for transitions the engine takes on its own.
	// It is never accepted from a token.
	RoleSystem Role = "SYSTEM"
)

func (r Role) Valid() bool {
	switch r {
	case RoleReceptionist, RoleBillingOfficer, RoleNurse, RoleDoctor,
		RoleLabTechnician, RoleRadiologyTechnician, RolePharmacist, RoleAdmin:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", Errorf(ErrValidation, "unknown role %q", s)
	}
	return r, nil
}

// ServiceKind returns the department a technician role works for.
func (r Role) ServiceKind() (ServiceKind, bool) {
	switch r {
	case RoleLabTechnician:
		return ServiceLab, true
	case RoleRadiologyTechnician:
		return ServiceRadiology, true
	case RolePharmacist:
		return ServicePharmacy, true
	case RoleNurse:
		return ServiceNurse, true
	}
	return "", false
}

// Actor is the authenticated identity behind a command.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SystemActor attributes engine-initiated changes.
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

// Ref returns the actor id for audit columns, nil for the system actor.
func (a Actor) Ref() *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}

func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}
