package events

import "testing"

func TestAuthorize(t *testing.T) {
	event := &Event{ID: 1, OwnerID: 10}

	tests := []struct {
		name      string
		principal Principal
		action    Action
		wantAllow bool
		wantCode  string
	}{
		{name: "member can view", principal: Principal{UserID: 20, Role: RoleMember}, action: ActionView, wantAllow: true},
		{name: "organizer can view", principal: Principal{UserID: 10, Role: RoleOrganizer}, action: ActionView, wantAllow: true},
		{name: "non-participant view looks like not found", principal: Principal{UserID: 30, Role: RoleNone}, action: ActionView, wantCode: "not_found"},
		{name: "non-participant manage looks like not found", principal: Principal{UserID: 30, Role: RoleNone}, action: ActionManage, wantCode: "not_found"},
		{name: "member cannot manage", principal: Principal{UserID: 20, Role: RoleMember}, action: ActionManage, wantCode: "forbidden"},
		{name: "organizer can manage", principal: Principal{UserID: 10, Role: RoleOrganizer}, action: ActionManage, wantAllow: true},
		{name: "owner passes own", principal: Principal{UserID: 10, Role: RoleOrganizer}, action: ActionOwn, wantAllow: true},
		{name: "non-owner organizer fails own", principal: Principal{UserID: 20, Role: RoleOrganizer}, action: ActionOwn, wantCode: "forbidden"},
		{name: "unknown action denied", principal: Principal{UserID: 10, Role: RoleOrganizer}, action: Action("frobnicate"), wantCode: "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Authorize(tt.principal, event, tt.action)
			if d.Allow != tt.wantAllow {
				t.Errorf("Allow = %v, want %v", d.Allow, tt.wantAllow)
			}
			if !tt.wantAllow && d.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", d.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthorize_NilEventOwnDenied(t *testing.T) {
	d := Authorize(Principal{UserID: 10, Role: RoleOrganizer}, nil, ActionOwn)
	if d.Allow {
		t.Fatal("own must be denied without a loaded event")
	}
}
