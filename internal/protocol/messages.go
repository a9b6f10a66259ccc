package protocol

// SUBSCRIBE (client -> server). First message on the observer WS
// connection; may be re-sent as a keepalive.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// MaxQueue caps the per-subscriber frame backlog. Out-of-range values
	// are clamped server-side.
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client). Sent once after a valid SUBSCRIBE.
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	RunID           string       `json:"run_id"`
	Params          ArenaParams  `json:"arena_params"`
	Palette         []BreedColor `json:"breed_palette"`
	Generation      uint64       `json:"generation"`
	Surviving       int          `json:"surviving_breeds"`
	Populations     []int        `json:"populations"`
	Absorbed        bool         `json:"absorbed"`
}

// ArenaParams describes the fixed configuration of the hosted run.
type ArenaParams struct {
	NumBreeds    int   `json:"num_breeds"`
	Size         int   `json:"arena_size"`
	Seed         int64 `json:"seed"`
	TickRateHz   int   `json:"tick_rate_hz"`
	StepsPerTick int   `json:"steps_per_tick"`
}

// FRAME (server -> client). Streamed on a tick cadence and on absorption
// or reset.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Epoch           uint64 `json:"epoch"`
	Tick            uint64 `json:"tick"`
	Generation      uint64 `json:"generation"`
	Surviving       int    `json:"surviving_breeds"`
	Populations     []int  `json:"populations"`
	Absorbed        bool   `json:"absorbed"`

	// Terrain is the full grid, row-major, in the named encoding.
	Encoding string `json:"encoding"`
	Terrain  string `json:"terrain"`

	Digest string `json:"digest"`
}

// ERROR (server -> client).
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	RunID           string       `json:"run_id"`
	Epoch           uint64       `json:"epoch"`
	State           string       `json:"state"`
	Params          ArenaParams  `json:"arena_params"`
	Palette         []BreedColor `json:"breed_palette"`
	Generation      uint64       `json:"generation"`
	Surviving       int          `json:"surviving_breeds"`
	Populations     []int        `json:"populations"`
	Absorbed        bool         `json:"absorbed"`
}

// HTTP body for POST /admin/v1/control.
type ControlRequest struct {
	Command string `json:"command"`
	// Steps applies to the "step" command only.
	Steps int `json:"steps,omitempty"`
}

// HTTP response for POST /admin/v1/control.
type ControlResponse struct {
	OK         bool   `json:"ok"`
	State      string `json:"state"`
	Epoch      uint64 `json:"epoch"`
	Generation uint64 `json:"generation"`
	Surviving  int    `json:"surviving_breeds"`
	Absorbed   bool   `json:"absorbed"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}
