// services/limits/isr.go
package limits

import "motioncode-go/cnc"

// sample reads every bound switch. all covers every defined gang, hard
// only gangs that take part in hard limits. Safe in interrupt context.
func (l *Limits) sample() (all, hard cnc.AxisMask) {
	n := int(l.nsw.Load())
	for i := 0; i < n; i++ {
		s := &l.sw[i]
		if s.pin.Get() == s.activeLow {
			continue
		}
		all |= s.axis
		if s.hard {
			hard |= s.axis
		}
	}
	return all, hard
}

// isr runs on any switch edge. It must not block, allocate or log.
func (l *Limits) isr() {
	l.isrRuns.Add(1)
	all, hard := l.sample()
	if hb := l.homeBox.Load(); hb != nil {
		hb.Post(uint32(all))
	}
	if m := hard & cnc.AxisMask(l.armed.Load()); m != 0 {
		l.box.Post(uint32(m))
	}
}
