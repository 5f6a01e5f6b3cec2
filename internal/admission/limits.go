package admission

import (
	"fmt"

	"github.com/mbd888/driveledger/internal/ratelimit"
)

// LimitMode selects how Limited sessions are throttled.
type LimitMode string

const (
	LimitRate LimitMode = "rate"
	LimitCap  LimitMode = "cap"
)

// Limits maps an admission outcome to the bandwidth regime enforced on
// served bytes. The zero value does not throttle Limited sessions.
type Limits struct {
	limited ratelimit.Bandwidth
}

// NewLimits wraps the regime used for Limited sessions.
func NewLimits(limited ratelimit.Bandwidth) Limits {
	return Limits{limited: limited}
}

// LimitsFromMode builds Limits from configuration values.
func LimitsFromMode(mode LimitMode, bytesPerSec, burstBytes, capBytes uint64) (Limits, error) {
	switch mode {
	case LimitRate, "":
		return NewLimits(ratelimit.NewByteRate(bytesPerSec, burstBytes)), nil
	case LimitCap:
		return NewLimits(ratelimit.NewByteCap(capBytes)), nil
	default:
		return Limits{}, fmt.Errorf("admission: unknown limit mode %q", mode)
	}
}

// For returns the bandwidth regime of an outcome. Rejected sessions get a
// regime that allows nothing.
func (l Limits) For(o Outcome) ratelimit.Bandwidth {
	switch o {
	case Unlimited:
		return ratelimit.Unlimited{}
	case Limited:
		if l.limited == nil {
			return ratelimit.Unlimited{}
		}
		return l.limited
	default:
		return denyAll{}
	}
}

type denyAll struct{}

func (denyAll) AllowBytes(string, uint64) bool { return false }
func (denyAll) Release(string)                 {}

// Stop releases background resources held by the Limited regime.
func (l Limits) Stop() {
	if s, ok := l.limited.(interface{ Stop() }); ok {
		s.Stop()
	}
}
