// Package speech provides the transcription and synthesis collaborators.
package speech

import "context"

// Transcriber converts downloaded audio into text. The filename hint carries
// the container extension. An empty string with a nil error means the audio
// carried no intelligible speech.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Synthesizer converts response text into an audio file and returns its URL.
// conversationKey groups generated audio per conversation in storage.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, conversationKey string) (string, error)
}
