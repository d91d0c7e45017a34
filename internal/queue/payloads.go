package queue

// MessageReceived asks a worker to run a user's rules over one raw message.
// RawMessage is base64 in the JSON encoding.
type MessageReceived struct {
	UserID     string `json:"user_id"`
	RawMessage []byte `json:"raw_message"`
	IsTest     bool   `json:"is_test,omitempty"`
}

// SenderAnalysis asks for a sender's mail to be analyzed for recurring patterns.
type SenderAnalysis struct {
	UserID string `json:"user_id"`
	Sender string `json:"sender"`
}
