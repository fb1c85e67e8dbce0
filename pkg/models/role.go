package models

// Role represents a user's single platform role. The set of roles is a
// closed enumeration: the role resolver maps provider metadata onto one of
// these values and nothing else, so every authorization decision is taken
// against a known, finite set.
//
// Roles form a partial order rather than a strict ladder. Admin outranks
// everything and clinic manager outranks all clinic staff, but
// veterinarian and receptionist are incomparable siblings: a veterinarian
// has clinical capabilities a receptionist does not, and a receptionist
// has scheduling capabilities outside a veterinarian's remit. Use
// [Role.Outranks] or [Role.AtLeast] rather than comparing roles directly.
type Role string

const (
	// RolePetOwner is the default, least-privileged role: a clinic client
	// who can see their own pets, appointments, and invoices. Assigned
	// whenever provider metadata names no recognized role.
	RolePetOwner Role = "pet_owner"

	// RoleReceptionist is front-desk staff: scheduling, check-in, and
	// client communication across the clinic's clients.
	RoleReceptionist Role = "receptionist"

	// RoleVeterinarian is clinical staff: medical records, treatment
	// plans, and prescriptions for patients under the clinic's care.
	RoleVeterinarian Role = "veterinarian"

	// RoleClinicManager is practice management: staff administration,
	// reporting, and configuration for a clinic. Outranks both clinic
	// staff roles.
	RoleClinicManager Role = "clinic_manager"

	// RoleAdmin is a platform operator with access across clinics.
	// Outranks every other role.
	RoleAdmin Role = "admin"
)

// DefaultRole is the role assigned when provider metadata carries no role
// claim or an unrecognized value. It is the least-privileged role, so a
// misconfigured or malicious metadata value can never grant elevated
// access.
const DefaultRole = RolePetOwner

// roleOutranks is the strict partial order over roles: roleOutranks[a][b]
// reports that a strictly outranks b. Absent pairs are incomparable (and
// no role outranks itself).
var roleOutranks = map[Role]map[Role]bool{
	RoleAdmin: {
		RoleClinicManager: true,
		RoleVeterinarian:  true,
		RoleReceptionist:  true,
		RolePetOwner:      true,
	},
	RoleClinicManager: {
		RoleVeterinarian: true,
		RoleReceptionist: true,
		RolePetOwner:     true,
	},
	RoleVeterinarian: {
		RolePetOwner: true,
	},
	RoleReceptionist: {
		RolePetOwner: true,
	},
	RolePetOwner: {},
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether the role is one of the recognized values.
func (r Role) Valid() bool {
	switch r {
	case RolePetOwner, RoleReceptionist, RoleVeterinarian,
		RoleClinicManager, RoleAdmin:
		return true
	default:
		return false
	}
}

// Outranks reports whether this role strictly outranks other. A role never
// outranks itself, and incomparable pairs (veterinarian vs. receptionist)
// return false in both directions. Unrecognized roles outrank nothing.
func (r Role) Outranks(other Role) bool {
	return roleOutranks[r][other]
}

// AtLeast reports whether this role satisfies a requirement for other:
// either the same role or one that strictly outranks it. This is the
// comparison authorization checks should use.
func (r Role) AtLeast(other Role) bool {
	return r == other || r.Outranks(other)
}
