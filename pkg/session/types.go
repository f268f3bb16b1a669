package session

// Status is the UI-facing lifecycle of one orchestrated session.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusLoading       Status = "loading"
	StatusLive          Status = "live"
	StatusDisconnecting Status = "disconnecting"
	StatusDisconnected  Status = "disconnected"
	StatusFailed        Status = "failed"
)

// ConnState is the media-layer connection lifecycle, owned by Manager.
type ConnState string

const (
	StateUnconnected ConnState = "unconnected"
	StateConnecting  ConnState = "connecting"
	StateConnected   ConnState = "connected"
)

// Credential authorizes exactly one session attempt. It is fetched fresh
// per attempt, never persisted, and discarded on disconnect.
type Credential struct {
	TransportURL     string `json:"transportUrl"`
	RoomName         string `json:"roomName"`
	ParticipantName  string `json:"participantName"`
	ParticipantToken string `json:"participantToken"`
}

// ErrorDetail is the single user-visible error surface. It is cleared on
// the next start attempt or explicit dismissal.
type ErrorDetail struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Stage names the step of the start sequence a failure belongs to.
type Stage string

const (
	StageCredential Stage = "credential"
	StageConnect    Stage = "connect"
	StageTimeout    Stage = "timeout"
)
