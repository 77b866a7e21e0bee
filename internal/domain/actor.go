package domain

type Role string

const (
	RoleCustomer Role = "customer"
	RoleSalesman Role = "salesman"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSalesman, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated identity for one request. It is resolved from
// the session token and carried in the request context; authorization
// decisions never consult ambient state.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}
