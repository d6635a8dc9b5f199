package reconcile

type State int32

const (
	StateDisconnected State = iota
	StateSyncing
	StateLive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSyncing:
		return "syncing"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}
