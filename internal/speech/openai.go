package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/simsocial/conversation-orchestrator/internal/storage"
)

// OpenAISpeech implements Transcriber and Synthesizer with the OpenAI audio
// APIs. Synthesized audio is written to the object store.
type OpenAISpeech struct {
	client *openai.Client
	store  storage.ObjectStore
}

// NewOpenAISpeech creates the speech collaborator.
func NewOpenAISpeech(apiKey string, store storage.ObjectStore) (*OpenAISpeech, error) {
	if apiKey == "" {
		return nil, errors.New("speech: OpenAI API key is required")
	}
	return &OpenAISpeech{
		client: openai.NewClient(apiKey),
		store:  store,
	}, nil
}

// Transcribe runs the audio through whisper.
func (s *OpenAISpeech) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if !strings.Contains(filename, ".") {
		filename = "audio.ogg"
	}
	out, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audio),
		FilePath: filename,
	})
	if err != nil {
		return "", fmt.Errorf("speech: transcribe: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// Synthesize generates speech for the given text and stores the mp3.
func (s *OpenAISpeech) Synthesize(ctx context.Context, text, conversationKey string) (string, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: openai.TTSModel1,
		Input: text,
		Voice: openai.VoiceNova,
	})
	if err != nil {
		return "", fmt.Errorf("speech: synthesize: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return "", fmt.Errorf("speech: read synthesis: %w", err)
	}

	key := storage.ContentKey(filepath.Join("tts", conversationKey), data, ".mp3")
	return s.store.Put(key, data)
}
