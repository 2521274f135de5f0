package types

// EventKind classifies what the detector believes triggered an event.
type EventKind string

const (
	KindLife    EventKind = "LIFE"
	KindFire    EventKind = "FIRE"
	KindVehicle EventKind = "VEHICLE"
	KindOther   EventKind = "OTHER"
)

// AllEventKinds is the complete set of wire-legal event kinds.
// Used by payload validators at the transport boundary.
var AllEventKinds = []EventKind{KindLife, KindFire, KindVehicle, KindOther}

// Valid reports whether the kind is one of the wire-legal values.
func (k EventKind) Valid() bool {
	switch k {
	case KindLife, KindFire, KindVehicle, KindOther:
		return true
	default:
		return false
	}
}

// SourceMode selects where detection events come from.
type SourceMode string

const (
	// ModeLive wires the engine to the remote device (pull + push + mutations).
	ModeLive SourceMode = "live"
	// ModeDemo feeds the same engine from a synthetic generator; remote
	// mutation forwarding becomes a local no-op.
	ModeDemo SourceMode = "demo"
)

// LinkState is the lifecycle state of the push subscription connection.
type LinkState string

const (
	LinkDisconnected LinkState = "disconnected"
	LinkConnecting   LinkState = "connecting"
	LinkConnected    LinkState = "connected"
)

// SignalQuality is the ordinal strength tier derived from RSSI.
type SignalQuality string

const (
	QualityExcellent SignalQuality = "excellent"
	QualityGood      SignalQuality = "good"
	QualityFair      SignalQuality = "fair"
	QualityWeak      SignalQuality = "weak"
	QualityPoor      SignalQuality = "poor"
	QualityFaint     SignalQuality = "faint"
)

// Quality threshold table (dBm). A single table serves every signal view
// so ranking stays consistent between the scan list and the selected-target
// readout. Band edges are exclusive: exactly -50 dBm is "good", not
// "excellent".
const (
	QualityExcellentFloor = -50.0
	QualityGoodFloor      = -60.0
	QualityFairFloor      = -70.0
	QualityWeakFloor      = -80.0
	QualityPoorFloor      = -90.0
)

// QualityForLevel maps a signal level in dBm to its quality tier.
func QualityForLevel(dbm float64) SignalQuality {
	switch {
	case dbm > QualityExcellentFloor:
		return QualityExcellent
	case dbm > QualityGoodFloor:
		return QualityGood
	case dbm > QualityFairFloor:
		return QualityFair
	case dbm > QualityWeakFloor:
		return QualityWeak
	case dbm > QualityPoorFloor:
		return QualityPoor
	default:
		return QualityFaint
	}
}

// Bars returns the 0-5 indicator count for a quality tier.
func (q SignalQuality) Bars() int {
	switch q {
	case QualityExcellent:
		return 5
	case QualityGood:
		return 4
	case QualityFair:
		return 3
	case QualityWeak:
		return 2
	case QualityPoor:
		return 1
	default:
		return 0
	}
}

// ChangeCause identifies which operation committed a store change.
type ChangeCause string

const (
	ChangeSnapshot    ChangeCause = "snapshot"
	ChangePush        ChangeCause = "push"
	ChangeAcknowledge ChangeCause = "acknowledge"
	ChangeDismissAll  ChangeCause = "dismiss_all"
	ChangeClear       ChangeCause = "clear"
)
