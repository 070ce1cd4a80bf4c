package events

// Action names a role-gated operation on an event.
type Action string

const (
	ActionView   Action = "view"   // any participant
	ActionManage Action = "manage" // organizers
	ActionOwn    Action = "own"    // the event owner
)

// Principal is the authenticated caller as seen by the policy layer.
type Principal struct {
	UserID int64
	Role   Role
}

// Decision is the outcome of a policy check. Code is a machine-readable
// reason carried to the client on denial.
type Decision struct {
	Allow bool
	Code  string
}

var (
	allow        = Decision{Allow: true}
	denyForbid   = Decision{Code: "forbidden"}
	denyNotFound = Decision{Code: "not_found"}
)

// Authorize decides whether the principal may perform the action on the
// event. Non-participants are denied with not_found so event existence
// does not leak.
func Authorize(p Principal, e *Event, action Action) Decision {
	if p.Role == RoleNone {
		return denyNotFound
	}
	switch action {
	case ActionView:
		return allow
	case ActionManage:
		if p.Role == RoleOrganizer {
			return allow
		}
		return denyForbid
	case ActionOwn:
		if e != nil && e.OwnerID == p.UserID {
			return allow
		}
		return denyForbid
	}
	return denyForbid
}
