package subscription

import "fmt"

// DowngradePolicy decides what a move to a lower tier does. A deployment runs exactly one.
type DowngradePolicy int

const (
	// ScheduleDowngrades keeps the current plan until the period ends, then switches.
	ScheduleDowngrades DowngradePolicy = iota
	// RejectDowngrades refuses the change; the user cancels and resubscribes instead.
	RejectDowngrades
)

// ParseDowngradePolicy maps a config value to a policy.
func ParseDowngradePolicy(v string) (DowngradePolicy, error) {
	switch v {
	case "", "schedule":
		return ScheduleDowngrades, nil
	case "reject":
		return RejectDowngrades, nil
	default:
		return 0, fmt.Errorf("subscription: unknown downgrade policy %q", v)
	}
}

func (p DowngradePolicy) String() string {
	switch p {
	case ScheduleDowngrades:
		return "schedule"
	case RejectDowngrades:
		return "reject"
	default:
		return fmt.Sprintf("DowngradePolicy(%d)", int(p))
	}
}

// Action is a user-initiated change to auto-renewal.
type Action string

const (
	ActionCancel     Action = "cancel"
	ActionReactivate Action = "reactivate"
)

// ChangeType names the outcome of a plan change request.
type ChangeType string

const (
	ChangeReactivate    ChangeType = "reactivate"
	ChangeClearSchedule ChangeType = "clear_schedule"
	ChangeUpgrade       ChangeType = "upgrade"
	ChangeDowngrade     ChangeType = "downgrade"
)
