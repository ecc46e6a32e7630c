package domain

import "strings"

// Role identifies the marketplace actor a session belongs to.
type Role string

const (
	RoleSuperAdmin    Role = "SUPER_ADMIN"
	RoleAdmin         Role = "ADMIN"
	RoleSupplier      Role = "SUPPLIER"
	RoleSupplierRider Role = "SUPPLIER_RIDER"
	RoleShopper       Role = "SHOPPER"
)

// NormalizeRole maps free-form role strings onto the canonical upper-case form.
// Unknown values survive normalization so callers can decide how to treat them.
func NormalizeRole(raw string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(raw)))
}

// Known reports whether the role is one of the canonical marketplace roles.
func (r Role) Known() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleSupplier, RoleSupplierRider, RoleShopper:
		return true
	}
	return false
}
