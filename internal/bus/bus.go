// Package bus defines the message-bus boundary spec.md §6 treats as an
// external collaborator: the wire-protocol adapter itself (framing,
// transport, serialization) is out of scope, but the Controller needs a
// concrete Go interface to depend on. Grounded on
// original_source/Communication/CAiepDdsComm.h's ingress callback table and
// egress publish methods, translated into a Go Ingress/Egress pair instead
// of a DDS listener class.
package bus

import (
	"time"

	"tubebank/internal/geo"
	"tubebank/internal/plan"
	"tubebank/internal/weapon"
)

// AssignCommandMsg is the bus-ingress shape of an assignment request.
type AssignCommandMsg struct {
	Tube       int
	Kind       weapon.Kind
	Assignment plan.Assignment
}

// WeaponControlMsg is the bus-ingress shape of a single-tube control
// request. Tube == 0 means "all tubes" (spec.md §4.7's emergency variants).
type WeaponControlMsg struct {
	Tube   int
	Target weapon.CtrlState
}

// WaypointUpdateMsg is the bus-ingress shape of a waypoint-list replacement.
type WaypointUpdateMsg struct {
	Tube      int
	Waypoints []plan.Waypoint
}

// OwnShipNavMsg is the bus-ingress shape of own-ship telemetry.
type OwnShipNavMsg struct {
	Info plan.OwnShipInfo
}

// TargetInfoMsg is the bus-ingress shape of a per-target telemetry update.
type TargetInfoMsg struct {
	Info plan.TargetInfo
}

// AxisCenterMsg is the bus-ingress shape of a new environment axis-center
// origin. Folded into the same "environment update" family as OwnShipNav/
// TargetInfo/ProhibitedAreaInfo (spec.md §4.7's "target/own-ship/axis/
// prohibited-area event" grouping), given its own message type since it
// carries a distinct payload shape.
type AxisCenterMsg struct {
	Center geo.Point2D
}

// ProhibitedAreaInfoMsg is the bus-ingress shape of the prohibited-area set.
// The core does not interpret prohibited areas (non-goal, spec.md §1); this
// type exists so the Controller's dispatch table is exhaustive over the
// message families spec.md §6 names.
type ProhibitedAreaInfoMsg struct {
	Areas []geo.Point2D
}

// MinePlanRequestMsg, MineEditedPlanListMsg and MineSelectedPlanMsg are the
// bus-ingress shapes forwarded verbatim to the external mineplan.Store
// (internal/mineplan), per spec.md §6.
type (
	MinePlanRequestMsg    struct{ ListNumber int }
	MineEditedPlanListMsg struct{ List any }
	MineSelectedPlanMsg   struct{ Number int }
)

// AIWaypointInferenceRequestMsg and InferenceResultMsg round out the
// ingress family spec.md §6 names; the AI-inference subsystem itself is out
// of scope, so these carry only an opaque payload for forwarding.
type (
	AIWaypointInferenceRequestMsg struct{ Params any }
	InferenceResultMsg            struct{ Payload any }
)

// Ingress is implemented by the bus adapter and invoked by it whenever a
// recognized message family arrives. The Controller implements Ingress.
type Ingress interface {
	OnAssignCommand(AssignCommandMsg)
	OnWeaponControl(WeaponControlMsg)
	OnWaypointUpdate(WaypointUpdateMsg)
	OnOwnShipNav(OwnShipNavMsg)
	OnTargetInfo(TargetInfoMsg)
	OnAxisCenter(AxisCenterMsg)
	OnProhibitedAreaInfo(ProhibitedAreaInfoMsg)
	OnMinePlanRequest(MinePlanRequestMsg)
	OnMineEditedPlanList(MineEditedPlanListMsg)
	OnMineSelectedPlan(MineSelectedPlanMsg)
	OnAIWaypointInferenceRequest(AIWaypointInferenceRequestMsg)
	OnInferenceResult(InferenceResultMsg)
}

// MinePlanListMsg, MineEpResultMsg, AssignResponseMsg, AIWaypointInferResultMsg
// and InternalInferRequestMsg are the bus-egress shapes spec.md §6 names.
type (
	MinePlanListMsg struct {
		ListNumber int
		Plans      any
	}
	MineEpResultMsg struct {
		Tube      int
		Result    plan.EngagementPlan
		Timestamp time.Time
	}
	AssignResponseMsg struct {
		Tube    int
		Kind    weapon.Kind
		Success bool
		Err     error
	}
	AIWaypointInferResultMsg struct{ Payload any }
	InternalInferRequestMsg  struct{ Payload any }
)

// Egress is implemented by the bus adapter; the Controller calls it to
// publish outbound telemetry.
type Egress interface {
	PublishMinePlanList(MinePlanListMsg) error
	PublishMineEpResult(MineEpResultMsg) error
	PublishAssignResponse(AssignResponseMsg) error
	PublishAIWaypointInferResult(AIWaypointInferResultMsg) error
	PublishInternalInferRequest(InternalInferRequestMsg) error
}
