package bolt

// Capabilities describes what a negotiated protocol version supports (§4.4).
type Capabilities struct {
	MultipleDatabases       bool // >= 4.0
	RoutingHints            bool // >= 4.0 (mode/db on RUN/BEGIN)
	ElementID               bool // >= 5.0
	UTCDateTime             bool // >= 5.0
	LogonLogoff             bool // >= 5.1 (separate LOGON/LOGOFF from HELLO)
	NotificationFilters     bool // >= 5.2
	Telemetry               bool // >= 5.4
	Route                   bool // >= 4.3 (ROUTE message vs. dbms.routing procedure)
}

// CapabilitiesFor returns the capability set for a negotiated version.
func CapabilitiesFor(v Version) Capabilities {
	return Capabilities{
		MultipleDatabases:   v.AtLeast(Version{4, 0}),
		RoutingHints:        v.AtLeast(Version{4, 0}),
		Route:               v.AtLeast(Version{4, 3}),
		ElementID:           v.AtLeast(Version{5, 0}),
		UTCDateTime:         v.AtLeast(Version{5, 0}),
		LogonLogoff:         v.AtLeast(Version{5, 1}),
		NotificationFilters: v.AtLeast(Version{5, 2}),
		Telemetry:           v.AtLeast(Version{5, 4}),
	}
}

// SupportedVersions lists every version this driver can negotiate, highest
// preference first (§4.5). The handshake has only 4 offer slots, so
// collapseOffers folds each run of consecutive minors on one major into a
// single "00 minor_range_len minor major" slot (covering
// [minor-range_len, minor]); this list collapses to 3 slots.
var SupportedVersions = []Version{
	{5, 4}, {5, 3}, {5, 2}, {5, 1}, {5, 0},
	{4, 4}, {4, 3}, {4, 2}, {4, 1},
	{3, 0},
}

// IsSupported reports whether v is one this driver implements a message
// codec for.
func IsSupported(v Version) bool {
	for _, sv := range SupportedVersions {
		if sv == v {
			return true
		}
	}
	return false
}
