// Package mineplan defines the mine-drop plan store boundary spec.md §6
// treats as an external collaborator, plus a file-backed reference
// implementation. Grounded on
// original_source/MineDropPlan/MineDropPlanManager.h: a bounded set of
// plan lists (<=15), each a bounded set of individual plans (<=15),
// validated against the same geodetic/waypoint rules as the rest of the
// system rather than re-deriving a separate rule set.
package mineplan

import (
	"fmt"

	"tubebank/internal/errs"
	"tubebank/internal/geo"
)

// MaxPlanLists and MaxPlansPerList mirror MineDropPlanManager's
// MAX_PLAN_LISTS / MAX_PLANS_PER_LIST constants.
const (
	MaxPlanLists    = 15
	MaxPlansPerList = 15
)

// Plan is one mine-drop plan: an ordered, non-empty waypoint list plus its
// plan number within a list.
type Plan struct {
	Number    uint32
	Waypoints []geo.Point3D
}

// Validate enforces MineDropPlanManager::ValidatePlan's rules: a positive
// plan number, at least one waypoint, and every waypoint within geodetic
// bounds.
func (p Plan) Validate() error {
	if p.Number == 0 {
		return fmt.Errorf("plan number must be >= 1: %w", errs.ErrInvalidWaypoint)
	}
	if len(p.Waypoints) == 0 {
		return fmt.Errorf("plan %d has no waypoints: %w", p.Number, errs.ErrInvalidWaypoint)
	}
	for i, wp := range p.Waypoints {
		if err := geo.Validate3D(wp); err != nil {
			return fmt.Errorf("plan %d waypoint %d: %w", p.Number, i, err)
		}
	}
	return nil
}

// PlanList is the bounded set of plans under one plan-list number.
type PlanList struct {
	Number uint32
	Plans  []Plan
}

// Validate enforces the <=15-plans-per-list bound and validates each plan.
func (l PlanList) Validate() error {
	if l.Number == 0 {
		return fmt.Errorf("plan list number must be >= 1: %w", errs.ErrInvalidWaypoint)
	}
	if len(l.Plans) > MaxPlansPerList {
		return fmt.Errorf("plan list %d has %d plans, max %d: %w", l.Number, len(l.Plans), MaxPlansPerList, errs.ErrInvalidWaypoint)
	}
	for _, p := range l.Plans {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Store is the persisted mine-drop-plan boundary: spec.md §6's
// MinePlanRequest/MineEditedPlanList/MineSelectedPlan all ultimately read or
// write through this interface. Implementations must enforce the
// MaxPlanLists bound themselves; Validate only checks a single list's shape.
type Store interface {
	Load(listNumber uint32) (PlanList, error)
	Save(list PlanList) error
	Delete(listNumber uint32) error
	AvailableListNumbers() ([]uint32, error)
}
