package enums

import "fmt"

// Permission is a capability code granted by the external auth service.
type Permission string

const (
	PermCirculationRead    Permission = "circulation.read"
	PermCirculationBorrow  Permission = "circulation.borrow"
	PermCirculationReturn  Permission = "circulation.return"
	PermCirculationRenew   Permission = "circulation.renew"
	PermReservationsManage Permission = "reservations.manage"
	PermReservationsSelf   Permission = "reservations.self"
	PermFinesSettle        Permission = "fines.settle"
	PermCatalogManage      Permission = "catalog.manage"
)

var validPermissions = []Permission{
	PermCirculationRead,
	PermCirculationBorrow,
	PermCirculationReturn,
	PermCirculationRenew,
	PermReservationsManage,
	PermReservationsSelf,
	PermFinesSettle,
	PermCatalogManage,
}

func (p Permission) String() string {
	return string(p)
}

func (p Permission) IsValid() bool {
	for _, candidate := range validPermissions {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePermission converts raw input into a Permission.
func ParsePermission(value string) (Permission, error) {
	for _, candidate := range validPermissions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid permission %q", value)
}
