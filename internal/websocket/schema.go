package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest is sent by the client to save a single answer.
type AutosaveRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// SubmitRequest is sent by the client to finalize the attempt. Answers not
// yet autosaved may ride along, keyed by question ID.
type SubmitRequest struct {
	Action  Action            `json:"action"`
	Answers map[string]string `json:"answers,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventFinalized Event = "finalized"
	EventPong      Event = "pong"
)

// SavedResponse acknowledges one autosaved answer.
type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
}

// FinalizedResponse reports the terminal attempt state after a submit, or
// after the server noticed the deadline had passed.
type FinalizedResponse struct {
	Event       Event    `json:"event"`
	Status      string   `json:"status"`
	Score       *int     `json:"score,omitempty"`
	Total       *int     `json:"total,omitempty"`
	Percentage  *float64 `json:"percentage,omitempty"`
	FinalizedAt string   `json:"finalized_at"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event            Event   `json:"event"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}
