package auth

import (
	"fmt"
	"strings"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
	"github.com/VetGrid/vetgrid-identity-core/pkg/models"
)

// ---------------------------------------------------------------------------
// Permission
// ---------------------------------------------------------------------------

// Permission represents a single grant: the right to perform an action
// on a resource. Either field may be the wildcard "*".
//
// Permissions are derived from a user's role at check time; they are
// never stored per user and never read from token claims.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// Match reports whether this permission grants the given resource and
// action, honoring wildcards in either field.
func (p Permission) Match(resource, action string) bool {
	if p.Resource != "*" && p.Resource != resource {
		return false
	}
	if p.Action != "*" && p.Action != action {
		return false
	}
	return true
}

// String returns the permission in "resource:action" form.
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// ParsePermission parses a "resource:action" string into a [Permission].
// Both parts may be the wildcard "*". Returns an error if the string
// does not contain exactly one colon or either part is empty.
func ParsePermission(s string) (Permission, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Permission{}, fmt.Errorf("auth: invalid permission string %q, want \"resource:action\"", s)
	}
	return Permission{Resource: parts[0], Action: parts[1]}, nil
}

// ---------------------------------------------------------------------------
// PermissionSet
// ---------------------------------------------------------------------------

// PermissionSet is an immutable collection of permissions with O(1)
// exact-match lookups and a linear fallback for wildcard grants.
//
// Permissions are split into exact and wildcard groups at construction
// time. PermissionSet is safe for concurrent read access after
// construction.
type PermissionSet struct {
	// exact holds non-wildcard permissions for O(1) lookup.
	exact map[Permission]struct{}

	// wildcards holds permissions where at least one field is "*".
	// These require linear scanning via Permission.Match().
	wildcards []Permission

	// all holds the complete, ordered list of permissions for
	// introspection via Permissions(). This preserves insertion order.
	all []Permission
}

// NewPermissionSet creates a [PermissionSet] from the given permissions.
// Permissions are deduplicated and split into exact-match and wildcard
// groups at construction time. The input slice is not modified.
//
// A nil or empty input produces a valid, empty PermissionSet.
func NewPermissionSet(perms []Permission) *PermissionSet {
	ps := &PermissionSet{
		exact: make(map[Permission]struct{}, len(perms)),
	}

	seen := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		if _, exists := seen[p]; exists {
			continue
		}
		seen[p] = struct{}{}

		ps.all = append(ps.all, p)

		if p.Resource == "*" || p.Action == "*" {
			ps.wildcards = append(ps.wildcards, p)
		} else {
			ps.exact[p] = struct{}{}
		}
	}

	return ps
}

// Has performs an O(1) lookup for the exact resource and action pair.
// Wildcard grants are not consulted; for authorization decisions use
// [PermissionSet.Match].
func (ps *PermissionSet) Has(resource, action string) bool {
	_, exists := ps.exact[Permission{Resource: resource, Action: action}]
	return exists
}

// Match reports whether the set grants the given resource and action,
// either through an exact permission or a wildcard grant.
func (ps *PermissionSet) Match(resource, action string) bool {
	if ps.Has(resource, action) {
		return true
	}
	for _, p := range ps.wildcards {
		if p.Match(resource, action) {
			return true
		}
	}
	return false
}

// Permissions returns the permissions in the set in insertion order.
// The returned slice must not be modified.
func (ps *PermissionSet) Permissions() []Permission {
	return ps.all
}

// ---------------------------------------------------------------------------
// Role permissions
// ---------------------------------------------------------------------------

// RolePermissionMap associates each role with the permissions it grants.
type RolePermissionMap map[models.Role][]Permission

// DefaultRolePermissions returns the platform's role-to-permission
// mapping. The five roles have progressively narrower access:
//
//   - admin: full access to all resources and actions (wildcard).
//   - clinic_manager: full access to scheduling, clients, billing,
//     staff, reports, and clinic settings, plus read-only access to
//     clinical records.
//   - veterinarian: full access to clinical records (medical records,
//     prescriptions, pets) and scheduling, read-only client access.
//   - receptionist: full access to scheduling, clients, and billing,
//     read-only pet access. No access to medical records.
//   - pet_owner: read-only access to pets, appointments, and invoices.
//     Row-level restriction to the owner's own records is enforced by
//     the serving layer, not here.
//
// Note that the permission axis is deliberately independent of the role
// hierarchy in [models.Role.Outranks]: a clinic manager outranks a
// veterinarian for role gates, yet does not hold prescriptions:write.
// Endpoints guarding clinical actions must check permissions, not rank.
func DefaultRolePermissions() RolePermissionMap {
	return RolePermissionMap{
		models.RoleAdmin: {
			{Resource: "*", Action: "*"},
		},
		models.RoleClinicManager: {
			{Resource: "appointments", Action: "*"},
			{Resource: "clients", Action: "*"},
			{Resource: "invoices", Action: "*"},
			{Resource: "staff", Action: "*"},
			{Resource: "reports", Action: "*"},
			{Resource: "clinic_settings", Action: "*"},
			{Resource: "pets", Action: "read"},
			{Resource: "medical_records", Action: "read"},
			{Resource: "prescriptions", Action: "read"},
		},
		models.RoleVeterinarian: {
			{Resource: "pets", Action: "*"},
			{Resource: "medical_records", Action: "*"},
			{Resource: "prescriptions", Action: "*"},
			{Resource: "appointments", Action: "*"},
			{Resource: "clients", Action: "read"},
			{Resource: "reports", Action: "read"},
		},
		models.RoleReceptionist: {
			{Resource: "appointments", Action: "*"},
			{Resource: "clients", Action: "*"},
			{Resource: "invoices", Action: "*"},
			{Resource: "pets", Action: "read"},
		},
		models.RolePetOwner: {
			{Resource: "pets", Action: "read"},
			{Resource: "appointments", Action: "read"},
			{Resource: "invoices", Action: "read"},
		},
	}
}

// defaultRoleSets holds a precomputed PermissionSet per role so that
// permission checks never rebuild the mapping.
var defaultRoleSets = func() map[models.Role]*PermissionSet {
	mapping := DefaultRolePermissions()
	sets := make(map[models.Role]*PermissionSet, len(mapping))
	for role, perms := range mapping {
		sets[role] = NewPermissionSet(perms)
	}
	return sets
}()

// emptyPermissionSet is returned for roles outside the default mapping.
var emptyPermissionSet = NewPermissionSet(nil)

// PermissionsForRole returns the precomputed permission set for the
// given role. Unrecognized roles get an empty set, which grants nothing.
func PermissionsForRole(role models.Role) *PermissionSet {
	if set, ok := defaultRoleSets[role]; ok {
		return set
	}
	return emptyPermissionSet
}

// ---------------------------------------------------------------------------
// RoleResolver
// ---------------------------------------------------------------------------

// RoleMapping maps a metadata value published by the identity provider
// to an internal role. Lookup is an exact string comparison; no case
// folding or trimming is applied.
type RoleMapping map[string]models.Role

// DefaultRoleMapping returns the standard metadata-value-to-role
// mapping. The metadata values mirror the role names.
func DefaultRoleMapping() RoleMapping {
	return RoleMapping{
		"admin":          models.RoleAdmin,
		"clinic_manager": models.RoleClinicManager,
		"veterinarian":   models.RoleVeterinarian,
		"receptionist":   models.RoleReceptionist,
		"pet_owner":      models.RolePetOwner,
	}
}

// RoleResolverConfig holds the configuration for [RoleResolver].
type RoleResolverConfig struct {
	// MetadataKey is the public metadata field holding the provider's
	// role designation. Defaults to "role".
	MetadataKey string `json:"metadata_key" env:"AUTH_ROLE_METADATA_KEY" envDefault:"role"`

	// Mapping translates metadata values to roles. Defaults to
	// [DefaultRoleMapping]. Values outside the mapping resolve to
	// DefaultRole rather than erroring.
	Mapping RoleMapping `json:"-"`

	// DefaultRole is assigned when the metadata key is missing, not a
	// string, or not in the mapping. Defaults to [models.DefaultRole].
	DefaultRole models.Role `json:"default_role" env:"AUTH_DEFAULT_ROLE"`
}

// RoleResolver assigns an internal role from an external identity's
// public metadata. Resolution is a total function: every input yields a
// valid role, and inputs the mapping does not recognize yield the
// configured default. The default ships as the least-privileged role so
// that absent or tampered metadata can never grant elevated access.
//
// RoleResolver is immutable after construction and safe for concurrent
// use.
type RoleResolver struct {
	metadataKey string
	mapping     RoleMapping
	defaultRole models.Role
}

// NewRoleResolver creates a RoleResolver for the given configuration.
func NewRoleResolver(cfg RoleResolverConfig) (*RoleResolver, error) {
	if cfg.MetadataKey == "" {
		cfg.MetadataKey = "role"
	}
	if cfg.Mapping == nil {
		cfg.Mapping = DefaultRoleMapping()
	}
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = models.DefaultRole
	}

	if !cfg.DefaultRole.Valid() {
		return nil, vgerr.Newf(vgerr.CodeValidation, "auth: default role %q is not a recognized role", cfg.DefaultRole)
	}
	for value, role := range cfg.Mapping {
		if !role.Valid() {
			return nil, vgerr.Newf(vgerr.CodeValidation, "auth: role mapping value %q targets unrecognized role %q", value, role)
		}
	}

	return &RoleResolver{
		metadataKey: cfg.MetadataKey,
		mapping:     cfg.Mapping,
		defaultRole: cfg.DefaultRole,
	}, nil
}

// Resolve returns the role for the given identity. It never fails; any
// identity whose metadata does not name a mapped role gets the default.
func (r *RoleResolver) Resolve(identity models.ExternalIdentity) models.Role {
	value, ok := identity.PublicMetadata[r.metadataKey]
	if !ok {
		return r.defaultRole
	}
	name, ok := value.(string)
	if !ok {
		return r.defaultRole
	}
	role, ok := r.mapping[name]
	if !ok {
		return r.defaultRole
	}
	return role
}
