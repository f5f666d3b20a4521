// internal/models/models.go

package models

import "time"

// Criticality drives the scheduler's probe interval for a Device.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityNormal   Criticality = "normal"
	CriticalityLow      Criticality = "low"
)

// IntervalSeconds returns the fixed probe interval for a criticality level.
// Unknown values get CriticalityNormal's interval (120).
func (c Criticality) IntervalSeconds() int {
	switch c {
	case CriticalityCritical:
		return 30
	case CriticalityHigh:
		return 60
	case CriticalityNormal:
		return 120
	case CriticalityLow:
		return 300
	default:
		return 120
	}
}

// Priority orders dispatch candidates within a scheduler tick (higher first).
func (c Criticality) Priority() int {
	switch c {
	case CriticalityCritical:
		return 4
	case CriticalityHigh:
		return 3
	case CriticalityNormal:
		return 2
	case CriticalityLow:
		return 1
	default:
		return 2
	}
}

type DeviceType string

const (
	DeviceWirelessAntenna DeviceType = "wireless-antenna"
	DeviceWifiSoho        DeviceType = "wifi-soho"
	DeviceRouter          DeviceType = "router"
	DeviceWifiOutdoor     DeviceType = "wifi-outdoor"
)

type AreaType string

const (
	AreaHomes       AreaType = "Homes"
	AreaPisoWifi    AreaType = "PisoWiFi Vendo"
	AreaSchools     AreaType = "Schools"
	AreaServerRelay AreaType = "Server/Relay"
)

// Status is the tri-state reachability classification shared by devices,
// areas, and links. "unknown" is a fourth, non-probed state used for
// composition and never returned by the Prober itself.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
	StatusUnknown  Status = "unknown"
)

type LatencyThreshold struct {
	Good     float64 `json:"good"`
	Degraded float64 `json:"degraded"`
}

type PacketLossThreshold struct {
	Good     float64 `json:"good"`
	Degraded float64 `json:"degraded"`
}

type Thresholds struct {
	Latency    LatencyThreshold    `json:"latency"`
	PacketLoss PacketLossThreshold `json:"packetLoss"`
}

// Device is a monitored network endpoint, owned by the topology config store.
type Device struct {
	ID            string      `json:"id"`
	AreaID        string      `json:"areaId"`
	Name          string      `json:"name"`
	Type          DeviceType  `json:"type"`
	IP            string      `json:"ip"`
	Criticality   Criticality `json:"criticality"`
	Thresholds    *Thresholds `json:"thresholds,omitempty"`
	SNMPEnabled   bool        `json:"snmpEnabled,omitempty"`
	SNMPCommunity string      `json:"snmpCommunity,omitempty"`
	SNMPVersion   int         `json:"snmpVersion,omitempty"`
}

// Area is a purely logical grouping; it carries no probe state of its own.
type Area struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type AreaType `json:"type"`
	Lat  float64  `json:"lat"`
	Lng  float64  `json:"lng"`
}

// Endpoint is one side of a Link. It may pin to a Device or reference only
// an Area; Link.Normalize() upgrades the legacy {from,to} shape at load time.
type Endpoint struct {
	AreaID        string `json:"areaId,omitempty"`
	DeviceID      string `json:"deviceId,omitempty"`
	Interface     string `json:"interface,omitempty"`
	InterfaceType string `json:"interfaceType,omitempty"`
	Label         string `json:"label,omitempty"`
}

type Link struct {
	ID        string                 `json:"id"`
	Endpoints [2]Endpoint            `json:"endpoints"`
	Type      string                 `json:"type,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	// From/To accept the legacy area-only shape on decode; Normalize()
	// upgrades them into Endpoints and clears them before re-save.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Normalize upgrades a legacy {from,to} Link into the endpoints form. It is
// idempotent: a Link that already carries endpoints is left untouched.
func (l *Link) Normalize() {
	if l.Endpoints[0].AreaID == "" && l.Endpoints[0].DeviceID == "" && l.From != "" {
		l.Endpoints[0] = Endpoint{AreaID: l.From}
	}
	if l.Endpoints[1].AreaID == "" && l.Endpoints[1].DeviceID == "" && l.To != "" {
		l.Endpoints[1] = Endpoint{AreaID: l.To}
	}
	l.From, l.To = "", ""
}

type Settings struct {
	Thresholds Thresholds `json:"thresholds"`
}

// Snapshot is the immutable {areas, devices, links, settings} Config payload.
// Subsystems read a Snapshot per invocation; they never mutate it.
type Snapshot struct {
	Areas    []Area    `json:"areas"`
	Devices  []Device  `json:"devices"`
	Links    []Link    `json:"links"`
	Settings Settings  `json:"settings"`
	SavedAt  time.Time `json:"savedAt"`
}

// DeviceByID returns the device with the given ID, if present in the snapshot.
func (s *Snapshot) DeviceByID(id string) (Device, bool) {
	for _, d := range s.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// AreaByID returns the area with the given ID, if present in the snapshot.
func (s *Snapshot) AreaByID(id string) (Area, bool) {
	for _, a := range s.Areas {
		if a.ID == id {
			return a, true
		}
	}
	return Area{}, false
}

// ThresholdsFor resolves the effective thresholds for a device: its own
// override if set, otherwise the snapshot's global default.
func (s *Snapshot) ThresholdsFor(d Device) Thresholds {
	if d.Thresholds != nil {
		return *d.Thresholds
	}
	return s.Settings.Thresholds
}

// DefaultSnapshot is the compiled-in topology used when no config file
// exists yet: two well-known public resolvers and a link between them,
// matching the cold-start scenario.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Areas: []Area{
			{ID: "area-a", Name: "Site A", Type: AreaServerRelay, Lat: 14.5995, Lng: 120.9842},
			{ID: "area-b", Name: "Site B", Type: AreaServerRelay, Lat: 14.6091, Lng: 121.0223},
		},
		Devices: []Device{
			{ID: "dev-a", AreaID: "area-a", Name: "Resolver A", Type: DeviceRouter, IP: "8.8.8.8", Criticality: CriticalityCritical},
			{ID: "dev-b", AreaID: "area-b", Name: "Resolver B", Type: DeviceRouter, IP: "1.1.1.1", Criticality: CriticalityCritical},
		},
		Links: []Link{
			{ID: "link-ab", Endpoints: [2]Endpoint{{AreaID: "area-a"}, {AreaID: "area-b"}}, Type: "backbone"},
		},
		Settings: Settings{
			Thresholds: Thresholds{
				Latency:    LatencyThreshold{Good: 50, Degraded: 150},
				PacketLoss: PacketLossThreshold{Good: 1, Degraded: 5},
			},
		},
	}
}

// ProbeResult is the ephemeral outcome of one Prober invocation.
type ProbeResult struct {
	DeviceID   string  `json:"deviceId"`
	Status     Status  `json:"status"`
	LatencyMs  *float64 `json:"latencyMs,omitempty"`
	PacketLoss *float64 `json:"packetLoss,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// DeviceStatus is the live, cache-resident view of a device.
type DeviceStatus struct {
	DeviceID        string   `json:"deviceId"`
	Status          Status   `json:"status"`
	LatencyMs       *float64 `json:"latencyMs,omitempty"`
	PacketLoss      *float64 `json:"packetLoss,omitempty"`
	LastChecked     string   `json:"lastChecked"`
	OfflineDuration *int64   `json:"offlineDuration,omitempty"`
}

// HistoryRow is one persisted probe observation, retained 30 days.
type HistoryRow struct {
	DeviceID   string
	Status     Status
	LatencyMs  *float64
	PacketLoss *float64
	Timestamp  int64
}

type PeriodType string

const (
	PeriodHourly PeriodType = "hourly"
	PeriodDaily  PeriodType = "daily"
)

// Aggregate is one closed time-bucket summary for a device, retained
// 90 days. (DeviceID, PeriodType, PeriodStart) is its unique key.
type Aggregate struct {
	DeviceID        string
	PeriodType      PeriodType
	PeriodStart     int64
	AvgLatency      float64
	MinLatency      float64
	MaxLatency      float64
	AvgPacketLoss   float64
	UptimePercent   float64
	PingCount       int
	DownCount       int
	DegradedCount   int
}

// InterfaceReading is one SNMP interface counters sample.
type InterfaceReading struct {
	DeviceID    string
	IfIndex     int
	IfName      string
	OperStatus  int
	SpeedMbps   float64
	InOctets    int64
	OutOctets   int64
	InErrors    int64
	OutErrors   int64
	InDiscards  int64
	OutDiscards int64
	Timestamp   int64
}

type FlappingEventType string

const (
	FlappingSpeedChange  FlappingEventType = "speed_change"
	FlappingStatusChange FlappingEventType = "status_change"
)

type FlappingSeverity string

const (
	FlappingInfo     FlappingSeverity = "info"
	FlappingWarning  FlappingSeverity = "warning"
	FlappingCritical FlappingSeverity = "critical"
)

// FlappingEvent is emitted by the flapping detector at most once per
// 5 minutes per (DeviceID, IfIndex).
type FlappingEvent struct {
	DeviceID  string
	IfIndex   int
	IfName    string
	EventType FlappingEventType
	From      string
	To        string
	Severity  FlappingSeverity
	Timestamp int64
}

// AreaStatus is the composed live state of an Area.
type AreaStatus struct {
	AreaID string `json:"areaId"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// LinkStatus is the composed live state of a Link.
type LinkStatus struct {
	LinkID  string   `json:"linkId"`
	Status  Status   `json:"status"`
	Latency *float64 `json:"latency,omitempty"`
}

// StatusTree is the output of status derivation, served by GET /api/status.
type StatusTree struct {
	Devices map[string]DeviceStatus `json:"devices"`
	Areas   []AreaStatus            `json:"areas"`
	Links   []LinkStatus            `json:"links"`
}
