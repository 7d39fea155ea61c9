package chatbot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// HandleFormReply processes a structured form submission. Form replies never
// pass through intent classification; the submission is parsed, persisted as
// a survey and acknowledged.
func (e *Engine) HandleFormReply(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	unlock := e.store.LockConversation(conv.ID)
	defer unlock()

	conv, err := e.store.ConversationByID(ctx, conv.ID)
	if err != nil {
		return err
	}

	log := e.logger.WithConversation(conv.ID, conv.ContactID)

	responseJSON := formResponseJSON(msg)
	if responseJSON == "" {
		log.Warn("form reply without response payload", zap.String("message_key", msg.MessageKey))
		return nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(responseJSON), &fields); err != nil {
		return fmt.Errorf("chatbot: parse form reply: %w", err)
	}

	survey := &model.Survey{
		AccountID:  conv.AccountID,
		ContactID:  conv.ContactID,
		VenueName:  firstString(fields, "venue_name", "unidade", "screen_0_venue_name"),
		FullName:   firstString(fields, "full_name", "nome_completo", "screen_0_full_name"),
		Document:   firstString(fields, "document", "cpf", "screen_0_document"),
		PostalCode: firstString(fields, "postal_code", "cep", "screen_0_postal_code"),
		Address:    firstString(fields, "address", "endereco", "screen_0_address"),
		Rating:     parseRating(firstString(fields, "rating", "avaliacao", "screen_1_rating")),
		Comments:   firstString(fields, "comments", "comentarios", "screen_1_comments"),
		Raw:        fields,
	}
	if err := e.store.CreateSurvey(ctx, survey); err != nil {
		return err
	}

	// Fill the message content with a readable summary so operators see what
	// was submitted instead of an opaque payload.
	if err := e.store.SetMessageContent(ctx, msg, summarizeSurvey(survey)); err != nil {
		log.Warn("failed to store form summary", zap.Error(err))
	}

	if _, err := e.responder.SendText(ctx, conv,
		"Obrigado! Recebemos suas respostas. Se precisar de mais alguma coisa, é só chamar."); err != nil {
		return err
	}
	return e.resetToBaseline(ctx, conv)
}

// formResponseJSON extracts the submission payload from the message metadata.
func formResponseJSON(msg *model.Message) string {
	interactive, ok := msg.Metadata["interactive"].(map[string]any)
	if !ok {
		return ""
	}
	reply, ok := interactive["nfm_reply"].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := reply["response_json"].(string)
	return s
}

func firstString(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// parseRating decodes the "<index>_<label>" choice token used by form rating
// widgets, where index 0 is the best option on a 5-point scale. Tokens that
// do not follow the encoding yield no rating rather than a wrong one.
func parseRating(token string) *int {
	if token == "" {
		return nil
	}
	idx := strings.IndexByte(token, '_')
	if idx <= 0 {
		return nil
	}
	n, err := strconv.Atoi(token[:idx])
	if err != nil || n < 0 || n > 4 {
		return nil
	}
	rating := 5 - n
	return &rating
}

func summarizeSurvey(s *model.Survey) string {
	var b strings.Builder
	b.WriteString("Formulário recebido")
	if s.VenueName != "" {
		b.WriteString(" - " + s.VenueName)
	}
	if s.FullName != "" {
		b.WriteString("\nNome: " + s.FullName)
	}
	if s.Rating != nil {
		b.WriteString(fmt.Sprintf("\nAvaliação: %d/5", *s.Rating))
	}
	if s.Comments != "" {
		b.WriteString("\nComentários: " + s.Comments)
	}
	return b.String()
}
