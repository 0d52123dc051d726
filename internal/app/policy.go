package app

import "github.com/dkeye/callring/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(room core.UserRoom, cid core.ConnID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.UserRoom, cid core.ConnID) BackpressureAction {
	return KickMember
}

// TolerantPolicy keeps slow members; the frame is simply lost for them.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(core.UserRoom, core.ConnID) BackpressureAction {
	return NoAction
}

// PolicyFor maps a config name to a policy. Anything but "tolerate" kicks.
func PolicyFor(name string) Policy {
	if name == "tolerate" {
		return TolerantPolicy{}
	}
	return SimplePolicy{}
}
