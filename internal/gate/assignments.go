package gate

import (
	"plategate/internal/config"
	"plategate/internal/model"
)

var roleOrder = []model.GateRole{
	model.RoleFrontEntrance,
	model.RoleBackEntrance,
	model.RoleFrontExit,
	model.RoleBackExit,
}

// Assignments maps gate roles to camera indexes. Any role may be unset.
type Assignments struct {
	byRole map[model.GateRole]int
}

func NewAssignments(cfg config.AssignmentsConfig) Assignments {
	byRole := make(map[model.GateRole]int, 4)
	if cfg.FrontEntrance != nil {
		byRole[model.RoleFrontEntrance] = *cfg.FrontEntrance
	}
	if cfg.BackEntrance != nil {
		byRole[model.RoleBackEntrance] = *cfg.BackEntrance
	}
	if cfg.FrontExit != nil {
		byRole[model.RoleFrontExit] = *cfg.FrontExit
	}
	if cfg.BackExit != nil {
		byRole[model.RoleBackExit] = *cfg.BackExit
	}
	return Assignments{byRole: byRole}
}

func (a Assignments) Camera(role model.GateRole) (int, bool) {
	idx, ok := a.byRole[role]
	return idx, ok
}

// RoleOf returns the gate role a camera is assigned to, if any.
func (a Assignments) RoleOf(camera int) (model.GateRole, bool) {
	for _, role := range roleOrder {
		if idx, ok := a.byRole[role]; ok && idx == camera {
			return role, true
		}
	}
	return "", false
}
