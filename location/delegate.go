package location

import "weak"

// Control is handed to delegate callbacks so they can end playback from
// inside a callback. Stop and Kill called through a Control take effect
// immediately: no further event of the current tick is delivered.
type Control interface {
	Stop()
	Kill()
}

// Delegate receives location and heading events.
//
// Callbacks run on the timer goroutine, one at a time. A callback must not
// call Stop or Kill on the Manager or Simulator that invoked it; use the
// Control argument instead.
type Delegate interface {
	OnLocationUpdate(ctl Control, sample PositionSample)
	OnHeadingUpdate(ctl Control, heading HeadingSample)
}

// RegionDelegate is implemented by delegates that want region transitions.
type RegionDelegate interface {
	OnEnterRegion(ctl Control, region Region)
	OnExitRegion(ctl Control, region Region)
}

// ErrorDelegate is implemented by delegates that want backend errors, such
// as an unreadable sensor stream.
type ErrorDelegate interface {
	OnError(ctl Control, err error)
}

// DelegateRef is a registration of a delegate. The zero value registers
// nothing.
type DelegateRef struct {
	get func() Delegate
}

// Weak registers d without keeping it alive. Once d is no longer referenced
// elsewhere and has been collected, events are dropped.
func Weak[T any, P interface {
	*T
	Delegate
}](d P) DelegateRef {
	if d == nil {
		return DelegateRef{}
	}
	wp := weak.Make((*T)(d))
	return DelegateRef{get: func() Delegate {
		if p := wp.Value(); p != nil {
			return P(p)
		}
		return nil
	}}
}

// Strong registers d and keeps it alive for as long as it is registered.
// Use it for delegates owned by nothing else, such as function adapters.
func Strong(d Delegate) DelegateRef {
	if d == nil {
		return DelegateRef{}
	}
	return DelegateRef{get: func() Delegate { return d }}
}

// Resolve returns the delegate, or nil if none is registered or it has been
// collected.
func (r DelegateRef) Resolve() Delegate {
	if r.get == nil {
		return nil
	}
	return r.get()
}

// DelegateFuncs adapts plain functions to the Delegate interface. Nil
// functions are skipped.
type DelegateFuncs struct {
	Location func(PositionSample)
	Heading  func(HeadingSample)
}

func (f *DelegateFuncs) OnLocationUpdate(_ Control, s PositionSample) {
	if f.Location != nil {
		f.Location(s)
	}
}

func (f *DelegateFuncs) OnHeadingUpdate(_ Control, h HeadingSample) {
	if f.Heading != nil {
		f.Heading(h)
	}
}

// fanout delivers every event to several delegates in order.
type fanout []Delegate

// Fanout combines delegates into one. Region and error events are forwarded
// to the members that implement the corresponding interfaces.
func Fanout(delegates ...Delegate) Delegate {
	out := make(fanout, 0, len(delegates))
	for _, d := range delegates {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

func (f fanout) OnLocationUpdate(ctl Control, s PositionSample) {
	for _, d := range f {
		d.OnLocationUpdate(ctl, s)
	}
}

func (f fanout) OnHeadingUpdate(ctl Control, h HeadingSample) {
	for _, d := range f {
		d.OnHeadingUpdate(ctl, h)
	}
}

func (f fanout) OnEnterRegion(ctl Control, r Region) {
	for _, d := range f {
		if rd, ok := d.(RegionDelegate); ok {
			rd.OnEnterRegion(ctl, r)
		}
	}
}

func (f fanout) OnExitRegion(ctl Control, r Region) {
	for _, d := range f {
		if rd, ok := d.(RegionDelegate); ok {
			rd.OnExitRegion(ctl, r)
		}
	}
}

func (f fanout) OnError(ctl Control, err error) {
	for _, d := range f {
		if ed, ok := d.(ErrorDelegate); ok {
			ed.OnError(ctl, err)
		}
	}
}
