// Package observerproto defines the JSON messages of the local observer feed.
package observerproto

import "time"

// Version is the observer protocol version.
const Version = "1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeHello     = "HELLO"
	TypeGate      = "GATE"
	TypeIndex     = "INDEX"
	TypePatch     = "PATCH"
)

// Topics a client can subscribe to.
const (
	TopicGate  = "gate"
	TopicIndex = "index"
	TopicPatch = "patch"
)

var AllTopics = []string{TopicGate, TopicIndex, TopicPatch}

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change topics. No topics means all of them.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Topics          []string `json:"topics,omitempty"`
}

// Server -> Client. Sent once after a valid SUBSCRIBE.
type HelloMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	SessionID       string   `json:"session_id"`
	Topics          []string `json:"topics"`
	GateOpen        bool     `json:"gate_open"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	GateOpen        bool     `json:"gate_open"`
	Indexed         int      `json:"indexed"`
	Rules           int      `json:"rules"`
	Plugins         []string `json:"plugins"`
	DryRun          bool     `json:"dry_run"`
	Live            bool     `json:"live"`
}

// Server -> Client. The game started or finished loading a world.
type GateMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Open            bool      `json:"open"`
	Time            time.Time `json:"time"`
}

// Server -> Client. A version was indexed or left the index.
type IndexMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Event           string `json:"event"`
	Path            string `json:"path"`

	ContentID   string `json:"content_id,omitempty"`
	StableName  string `json:"stable_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Version     uint32 `json:"version,omitempty"`
}

// Server -> Client. One patch session finished.
type PatchMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Session         string `json:"session"`
	ContentID       string `json:"content_id"`
	Status          string `json:"status"`

	Plugins   []string `json:"plugins,omitempty"`
	PatchedBy []string `json:"patched_by,omitempty"`
	Disabled  int      `json:"disabled"`
	Unmatched int      `json:"unmatched"`
	Aborted   string   `json:"aborted,omitempty"`
	Backup    string   `json:"backup,omitempty"`
}
