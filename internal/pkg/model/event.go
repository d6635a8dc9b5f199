package model

import "time"

type EventType string

func (et EventType) String() string {
	return string(et)
}

const (
	EventApplianceAdded      EventType = "appliance_added"
	EventApplianceRemoved    EventType = "appliance_removed"
	EventStatusChanged       EventType = "status_changed"
	EventSettingChanged      EventType = "setting_changed"
	EventProgramStateChanged EventType = "program_state_changed"
	EventConnectionChanged   EventType = "connection_changed"
	EventKeepAlive           EventType = "keep_alive" // heartbeat, never mutates state
)

// Event is a decoded stream event. Only the payload field matching Type is set.
type Event struct {
	Type        EventType
	ApplianceID string
	// Sequence is a per appliance monotonic marker, 0 when the source has none.
	Sequence   uint64
	ReceivedAt time.Time
	// Keys lists the vendor keys of an item message in arrival order.
	Keys []string

	Appliance  *Appliance      // EventApplianceAdded
	Status     []StatusEntry   // EventStatusChanged
	Settings   []SettingEntry  // EventSettingChanged
	Program    *ProgramState   // EventProgramStateChanged
	Connection ConnectionState // EventConnectionChanged
}

type ChangeKind string

func (ck ChangeKind) String() string {
	return string(ck)
}

const (
	ChangeStatus     ChangeKind = "status"
	ChangeSetting    ChangeKind = "setting"
	ChangeProgram    ChangeKind = "program"
	ChangeConnection ChangeKind = "connection"
	ChangeAdded      ChangeKind = "added"
	ChangeRemoved    ChangeKind = "removed"
	ChangeRefreshed  ChangeKind = "refreshed" // replaced by a full sync
)

// Change is emitted after a committed registry mutation.
type Change struct {
	ApplianceID string     `json:"appliance_id"`
	Kind        ChangeKind `json:"kind"`
	Keys        []string   `json:"keys,omitempty"`
	At          time.Time  `json:"at"`
}

type DiagnosticKind string

const (
	DiagnosticDecode      DiagnosticKind = "decode"
	DiagnosticConsistency DiagnosticKind = "consistency"
	DiagnosticTransport   DiagnosticKind = "transport"
)

// Diagnostic reports a non fatal problem observed by the sync engine.
type Diagnostic struct {
	Kind        DiagnosticKind `json:"kind"`
	ApplianceID string         `json:"appliance_id,omitempty"`
	Err         error          `json:"-"`
	At          time.Time      `json:"at"`
}
