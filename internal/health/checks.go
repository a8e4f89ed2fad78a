package health

import "context"

// Pinger is implemented by dependencies that can be pinged, such as the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports down when p cannot be pinged.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) Status {
		if err := p.Ping(ctx); err != nil {
			return StatusDown
		}
		return StatusOK
	}
}

// ConnectedCheck reports degraded while connected returns false. The daemon
// stays ready without a browser attached.
func ConnectedCheck(connected func() bool) CheckFunc {
	return func(context.Context) Status {
		if connected() {
			return StatusOK
		}
		return StatusDegraded
	}
}
