package webhook

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/simsocial/conversation-orchestrator/internal/model"
	"github.com/simsocial/conversation-orchestrator/internal/storage"
)

// downloadMedia resolves the platform media id, downloads the bytes through
// the account-scoped transport and stores them. The message's media URL is
// updated to the stored location.
func (g *Gate) downloadMedia(ctx context.Context, account *model.Account, msg *model.Message) ([]byte, error) {
	if msg.Media == nil || msg.Media.ID == "" {
		return nil, fmt.Errorf("webhook: message %s has no media id", msg.MessageKey)
	}

	info, err := g.transport.MediaInfo(ctx, account, msg.Media.ID)
	if err != nil {
		return nil, err
	}
	data, err := g.transport.DownloadMedia(ctx, account, info.URL)
	if err != nil {
		return nil, err
	}

	key := storage.ContentKey(filepath.Join("media", msg.Type), data, extensionFor(info.MimeType))
	location, err := g.objects.Put(key, data)
	if err != nil {
		return nil, err
	}
	if err := g.store.SetMediaURL(ctx, msg, location); err != nil {
		return nil, err
	}
	g.logger.Debug("media stored",
		zap.String("message_key", msg.MessageKey),
		zap.String("location", location),
	)
	return data, nil
}

// processAudio downloads the voice message, transcribes it and hands the
// transcribed message to the dialogue engine. An unintelligible recording
// still reaches the engine, with empty content.
func (g *Gate) processAudio(ctx context.Context, account *model.Account, conv *model.Conversation, msg *model.Message, fresh bool) error {
	data, err := g.downloadMedia(ctx, account, msg)
	if err != nil {
		return err
	}

	text, err := g.transcriber.Transcribe(ctx, data, "audio"+extensionFor(msg.Media.MimeType))
	if err != nil {
		return fmt.Errorf("webhook: transcription: %w", err)
	}
	if text != "" {
		if err := g.store.SetMessageContent(ctx, msg, text); err != nil {
			return err
		}
	}
	return g.dialogue.HandleInbound(ctx, conv, msg, fresh)
}

func extensionFor(mimeType string) string {
	// Strip codec parameters, e.g. "audio/ogg; codecs=opus".
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	switch strings.TrimSpace(mimeType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	case "audio/amr":
		return ".amr"
	case "application/pdf":
		return ".pdf"
	}
	return ".bin"
}
