package core

// InputKind discriminates inbound transport events.
type InputKind string

const (
	// InputText is a typed user utterance.
	InputText InputKind = "text"
	// InputAudio is a raw audio frame awaiting transcription.
	InputAudio InputKind = "audio"
	// InputInterrupt cancels the in-flight turn without injecting new input.
	InputInterrupt InputKind = "interrupt"
	// InputDisconnect ends the session cleanly.
	InputDisconnect InputKind = "disconnect"
)

// InputEvent is one inbound transport event handed to the turn pipeline.
type InputEvent struct {
	Kind     InputKind `json:"type"`
	Text     string    `json:"text,omitempty"`
	Audio    []byte    `json:"audio,omitempty"`
	MimeType string    `json:"mimetype,omitempty"`
}

// TextInput builds a user text input event.
func TextInput(text string) InputEvent { return InputEvent{Kind: InputText, Text: text} }

// AudioInput builds a raw audio input event.
func AudioInput(data []byte, mimeType string) InputEvent {
	return InputEvent{Kind: InputAudio, Audio: data, MimeType: mimeType}
}

// Interrupt builds a bare interrupt signal.
func Interrupt() InputEvent { return InputEvent{Kind: InputInterrupt} }

// Disconnect builds a disconnect signal.
func Disconnect() InputEvent { return InputEvent{Kind: InputDisconnect} }
