package providers

import "context"

// HealthStatus reports whether one provider is usable right now.
type HealthStatus struct {
	Name     string
	IsOnline bool
	ErrorMsg string
}

// CheckAll pings every provider and collects the results.
func CheckAll(ctx context.Context, provs []Provider) []HealthStatus {
	var statuses []HealthStatus
	for _, p := range provs {
		err := p.Ping(ctx)
		status := HealthStatus{
			Name:     p.Name(),
			IsOnline: err == nil,
		}
		if err != nil {
			status.ErrorMsg = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// AnyOnline reports whether at least one provider answered its ping. The
// chat command refuses to start when none did.
func AnyOnline(statuses []HealthStatus) bool {
	for _, s := range statuses {
		if s.IsOnline {
			return true
		}
	}
	return false
}
