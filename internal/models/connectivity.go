package models

// ConnectivityStatus is the confirmed reachability of the remote service.
type ConnectivityStatus string

const (
	ConnectivityOnline  ConnectivityStatus = "online"
	ConnectivityOffline ConnectivityStatus = "offline"
)

// ConnectivityState is the monitor's current view. Mutated only by the
// connectivity monitor; everyone else reads a copy.
type ConnectivityState struct {
	Status              ConnectivityStatus `json:"status"`
	LastChangeAt        int64              `json:"last_change_at"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
}
