package bolt

import "github.com/marmos91/gobolt/pkg/packstream"

// Message signature bytes (§4.4).
const (
	sigHello     byte = 0x01
	sigGoodbye   byte = 0x02
	sigReset     byte = 0x0F
	sigRun       byte = 0x10
	sigBegin     byte = 0x11
	sigCommit    byte = 0x12
	sigRollback  byte = 0x13
	sigDiscard   byte = 0x2F
	sigPull      byte = 0x3F
	sigRoute     byte = 0x66
	sigLogon     byte = 0x6A
	sigLogoff    byte = 0x6B
	sigTelemetry byte = 0x54

	sigSuccess byte = 0x70
	sigRecord  byte = 0x71
	sigIgnored byte = 0x7E
	sigFailure byte = 0x7F
)

// AccessMode selects which role a routed operation targets.
type AccessMode int

const (
	AccessModeWrite AccessMode = iota
	AccessModeRead
)

// RunRequest is the shape of a RUN message (§4.4).
type RunRequest struct {
	Query      string
	Parameters map[string]any
	Bookmarks  []string
	TxTimeout  *int64 // milliseconds, nil = unset
	TxMetadata map[string]any
	Mode       AccessMode
	Database   string
	ImpUser    string
	// NotificationsMinSeverity/DisabledCategories are Bolt >= 5.2 only.
	NotificationsMinSeverity     string
	NotificationsDisabledCategories []string
}

func (r RunRequest) extra(v Version) map[string]any {
	extra := map[string]any{}
	if len(r.Bookmarks) > 0 {
		bm := make([]any, len(r.Bookmarks))
		for i, b := range r.Bookmarks {
			bm[i] = b
		}
		extra["bookmarks"] = bm
	}
	if r.TxTimeout != nil {
		extra["tx_timeout"] = *r.TxTimeout
	}
	if len(r.TxMetadata) > 0 {
		extra["tx_metadata"] = r.TxMetadata
	}
	if r.Mode == AccessModeRead {
		extra["mode"] = "r"
	}
	if v.AtLeast(Version{4, 0}) {
		if r.Database != "" {
			extra["db"] = r.Database
		}
		if r.ImpUser != "" {
			extra["imp_user"] = r.ImpUser
		}
	}
	if v.AtLeast(Version{5, 2}) {
		if r.NotificationsMinSeverity != "" {
			extra["notifications_minimum_severity"] = r.NotificationsMinSeverity
		}
		if len(r.NotificationsDisabledCategories) > 0 {
			cats := make([]any, len(r.NotificationsDisabledCategories))
			for i, c := range r.NotificationsDisabledCategories {
				cats[i] = c
			}
			extra["notifications_disabled_categories"] = cats
		}
	}
	return extra
}

// ToStructure builds the wire Structure for a RUN message under the given
// negotiated version.
func (r RunRequest) ToStructure(v Version) packstream.Structure {
	params := r.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return packstream.Structure{Tag: sigRun, Fields: []any{r.Query, params, r.extra(v)}}
}

// BeginRequest is the shape of a BEGIN message.
type BeginRequest struct {
	Bookmarks                      []string
	TxTimeout                      *int64
	TxMetadata                     map[string]any
	Mode                           AccessMode
	Database                       string
	ImpUser                        string
	NotificationsMinSeverity       string
	NotificationsDisabledCategories []string
}

func (b BeginRequest) ToStructure(v Version) packstream.Structure {
	r := RunRequest{
		Bookmarks: b.Bookmarks, TxTimeout: b.TxTimeout, TxMetadata: b.TxMetadata,
		Mode: b.Mode, Database: b.Database, ImpUser: b.ImpUser,
		NotificationsMinSeverity: b.NotificationsMinSeverity,
		NotificationsDisabledCategories: b.NotificationsDisabledCategories,
	}
	return packstream.Structure{Tag: sigBegin, Fields: []any{r.extra(v)}}
}

// PullRequest/DiscardRequest select a stream by qid (-1 = most recent) and
// a requested record count (-1 = unbounded, "ALL").
type PullRequest struct {
	N   int64
	Qid int64
}

func (p PullRequest) ToStructure() packstream.Structure {
	return packstream.Structure{Tag: sigPull, Fields: []any{map[string]any{"n": p.N, "qid": p.Qid}}}
}

type DiscardRequest struct {
	N   int64
	Qid int64
}

func (d DiscardRequest) ToStructure() packstream.Structure {
	return packstream.Structure{Tag: sigDiscard, Fields: []any{map[string]any{"n": d.N, "qid": d.Qid}}}
}

// HelloRequest is the shape of a HELLO message. On Bolt >= 5.1 the auth token
// is sent separately via LOGON and Auth should be left nil here.
type HelloRequest struct {
	UserAgent       string
	Auth            map[string]any
	RoutingContext  map[string]string
	PatchBolt       []string
}

func (h HelloRequest) ToStructure(v Version) packstream.Structure {
	extra := map[string]any{"user_agent": h.UserAgent}
	if h.Auth != nil {
		for k, val := range h.Auth {
			extra[k] = val
		}
	}
	if h.RoutingContext != nil {
		rc := map[string]any{}
		for k, val := range h.RoutingContext {
			rc[k] = val
		}
		extra["routing"] = rc
	}
	if len(h.PatchBolt) > 0 {
		pb := make([]any, len(h.PatchBolt))
		for i, p := range h.PatchBolt {
			pb[i] = p
		}
		extra["patch_bolt"] = pb
	}
	return packstream.Structure{Tag: sigHello, Fields: []any{extra}}
}

// RouteRequest is the shape of a ROUTE message (Bolt >= 4.3).
type RouteRequest struct {
	RoutingContext map[string]string
	Bookmarks      []string
	Database       string
	ImpUser        string
}

func (r RouteRequest) ToStructure() packstream.Structure {
	rc := map[string]any{}
	for k, v := range r.RoutingContext {
		rc[k] = v
	}
	bm := make([]any, len(r.Bookmarks))
	for i, b := range r.Bookmarks {
		bm[i] = b
	}
	dbInfo := map[string]any{}
	if r.Database != "" {
		dbInfo["db"] = r.Database
	}
	if r.ImpUser != "" {
		dbInfo["imp_user"] = r.ImpUser
	}
	return packstream.Structure{Tag: sigRoute, Fields: []any{rc, bm, dbInfo}}
}

func logonStructure(auth map[string]any) packstream.Structure {
	return packstream.Structure{Tag: sigLogon, Fields: []any{auth}}
}

func logoffStructure() packstream.Structure {
	return packstream.Structure{Tag: sigLogoff}
}

func goodbyeStructure() packstream.Structure {
	return packstream.Structure{Tag: sigGoodbye}
}

func resetStructure() packstream.Structure {
	return packstream.Structure{Tag: sigReset}
}

func commitStructure() packstream.Structure {
	return packstream.Structure{Tag: sigCommit}
}

func rollbackStructure() packstream.Structure {
	return packstream.Structure{Tag: sigRollback}
}

func telemetryStructure(apiType int64) packstream.Structure {
	return packstream.Structure{Tag: sigTelemetry, Fields: []any{map[string]any{"api": apiType}}}
}

// ResponseKind classifies a decoded response Structure's signature.
type ResponseKind int

const (
	ResponseRecord ResponseKind = iota
	ResponseSuccess
	ResponseFailure
	ResponseIgnored
	ResponseUnknown
)

func classifyResponse(s packstream.Structure) ResponseKind {
	switch s.Tag {
	case sigRecord:
		return ResponseRecord
	case sigSuccess:
		return ResponseSuccess
	case sigFailure:
		return ResponseFailure
	case sigIgnored:
		return ResponseIgnored
	default:
		return ResponseUnknown
	}
}
