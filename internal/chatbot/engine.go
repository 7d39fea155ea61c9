// Package chatbot implements the dialogue state machine that drives
// AI-handled conversations, and the responder that records outbound sends.
package chatbot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simsocial/conversation-orchestrator/internal/llm"
	"github.com/simsocial/conversation-orchestrator/internal/model"
	"github.com/simsocial/conversation-orchestrator/internal/queue"
	"github.com/simsocial/conversation-orchestrator/internal/store"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
	"github.com/simsocial/conversation-orchestrator/pkg/metrics"
)

// Dialogue states. The empty string is the baseline conversational state.
const (
	StateGeneral              = ""
	StateAwaitingLocation     = "awaiting_location_for_cras"
	StateAwaitingLookupResult = "awaiting_cras_result"
	StateAwaitingAppointment  = "awaiting_appointment_confirmation"
	StateConfirmingTransfer   = "confirming_transfer"
	StateTransferred          = "transferred"
)

const contextLocationKey = "location"
const contextUnitKey = "unit_name"

// Engine is the dialogue state machine. One inbound message produces at most
// one state transition; processing for a conversation is serialized through
// the store's per-conversation lock.
type Engine struct {
	store       *store.Store
	llm         llm.Client
	responder   *Responder
	queue       *queue.Queue
	locator     Locator
	lookupDelay time.Duration
	logger      *logger.Logger
}

// NewEngine wires the dialogue engine.
func NewEngine(st *store.Store, client llm.Client, responder *Responder, q *queue.Queue, locator Locator, log *logger.Logger) *Engine {
	return &Engine{
		store:       st,
		llm:         client,
		responder:   responder,
		queue:       q,
		locator:     locator,
		lookupDelay: 3 * time.Second,
		logger:      log,
	}
}

// HandleInbound processes one accepted inbound message. fresh signals a new
// or reopened conversation and triggers the greeting.
func (e *Engine) HandleInbound(ctx context.Context, conv *model.Conversation, msg *model.Message, fresh bool) error {
	unlock := e.store.LockConversation(conv.ID)
	defer unlock()

	// The caller's snapshot predates the lock; reload so back-to-back
	// messages observe each other's transitions.
	conv, err := e.store.ConversationByID(ctx, conv.ID)
	if err != nil {
		return err
	}

	if !conv.IsAIHandled || conv.ChatbotState == StateTransferred {
		return nil
	}

	log := e.logger.WithConversation(conv.ID, conv.ContactID)

	if fresh {
		greeting := fmt.Sprintf(
			"Olá, %s! Sou o SIM Social, assistente virtual da Secretaria de Desenvolvimento Social. "+
				"Posso ajudar com agendamentos, atualização de cadastro e informações sobre o CRAS. Como posso ajudar?",
			conv.Contact.Name,
		)
		if _, err := e.responder.SendText(ctx, conv, greeting); err != nil {
			return fmt.Errorf("chatbot: greeting: %w", err)
		}
	}

	switch msg.Type {
	case model.TypeText, model.TypeInteractive:
		// handled below
	case model.TypeAudio:
		if msg.Text() == "" {
			_, err := e.responder.SendText(ctx, conv,
				"Desculpe, não consegui entender o áudio. Pode repetir ou escrever sua mensagem?")
			return err
		}
	case model.TypeLocation:
		if conv.ChatbotState != StateAwaitingLocation {
			_, err := e.responder.SendText(ctx, conv,
				"Obrigado pela localização! Se quiser encontrar a unidade do CRAS mais próxima, diga \"agendar\".")
			return err
		}
	default:
		// Images, videos, documents and stickers get a generic acknowledgment.
		_, err := e.responder.SendText(ctx, conv,
			"Recebi seu arquivo, mas no momento só consigo responder mensagens de texto e áudio.")
		return err
	}

	text := msg.Text()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	switch conv.ChatbotState {
	case StateAwaitingLocation:
		return e.handleLocation(ctx, conv, text, log)
	case StateAwaitingLookupResult:
		return e.answerQuestion(ctx, conv, text, msg.Type == model.TypeAudio)
	case StateAwaitingAppointment:
		return e.handleAppointmentConfirmation(ctx, conv, text)
	case StateConfirmingTransfer:
		return e.handleTransferConfirmation(ctx, conv, text, log)
	default:
		return e.handleGeneral(ctx, conv, text, msg.Type == model.TypeAudio, log)
	}
}

// handleGeneral is the baseline state: deterministic keyword intents first,
// then model analysis, then a knowledge-grounded answer.
func (e *Engine) handleGeneral(ctx context.Context, conv *model.Conversation, text string, viaAudio bool, log *logger.Logger) error {
	switch keywordIntent(text) {
	case llm.IntentScheduleOrUpdate:
		return e.askLocation(ctx, conv)
	case llm.IntentTransferHuman:
		return e.askTransferConfirmation(ctx, conv)
	}

	history := e.history(ctx, conv)

	analysis, err := e.llm.AnalyzeMessage(ctx, history, text)
	if err != nil {
		// The structured analysis can fail on malformed model output; the
		// plain intent classification still routes scheduling and transfer
		// requests before giving up and answering directly.
		log.Warn("message analysis failed, falling back to intent classification", zap.Error(err))
		intent, cerr := e.llm.ClassifyIntent(ctx, history, text)
		if cerr != nil {
			log.Warn("intent classification failed, answering directly", zap.Error(cerr))
			return e.answerQuestion(ctx, conv, text, viaAudio)
		}
		switch intent {
		case llm.IntentScheduleOrUpdate:
			return e.askLocation(ctx, conv)
		case llm.IntentTransferHuman:
			return e.askTransferConfirmation(ctx, conv)
		}
		return e.answerQuestion(ctx, conv, text, viaAudio)
	}

	if analysis.ContainsPII {
		_, err := e.responder.SendText(ctx, conv,
			"Por segurança, não posso tratar dados pessoais como documentos por aqui. "+
				"Para atendimento com seus dados, procure a unidade do CRAS mais próxima.")
		return err
	}

	switch analysis.Intent {
	case llm.IntentScheduleOrUpdate:
		if analysis.DetectedPostalCode != "" {
			return e.startLookup(ctx, conv, onlyDigits(analysis.DetectedPostalCode), log)
		}
		return e.askLocation(ctx, conv)
	case llm.IntentTransferHuman:
		return e.askTransferConfirmation(ctx, conv)
	}

	if analysis.OffTopic {
		_, err := e.responder.SendVoiceOrText(ctx, conv,
			"Sou especializado em serviços sociais: agendamentos, Cadastro Único e informações sobre o CRAS. "+
				"Posso ajudar com algum desses assuntos?", viaAudio)
		return err
	}

	return e.answerQuestion(ctx, conv, text, viaAudio)
}

func (e *Engine) answerQuestion(ctx context.Context, conv *model.Conversation, text string, viaAudio bool) error {
	history := e.history(ctx, conv)
	answer, err := e.llm.AnswerQuestion(ctx, history, text)
	if err != nil {
		return fmt.Errorf("chatbot: answer question: %w", err)
	}
	_, err = e.responder.SendVoiceOrText(ctx, conv, answer, viaAudio)
	return err
}

func (e *Engine) askLocation(ctx context.Context, conv *model.Conversation) error {
	if _, err := e.responder.SendText(ctx, conv,
		"Para encontrar a unidade do CRAS mais próxima, me informe seu CEP (8 dígitos) ou compartilhe sua localização."); err != nil {
		return err
	}
	return e.store.SetChatbotState(ctx, conv, StateAwaitingLocation)
}

func (e *Engine) handleLocation(ctx context.Context, conv *model.Conversation, text string, log *logger.Logger) error {
	location, ok := parseLocation(text)
	if !ok {
		// Stay in this state; ask again.
		_, err := e.responder.SendText(ctx, conv,
			"Não consegui identificar o CEP. Envie os 8 dígitos (por exemplo: 01001000) ou compartilhe sua localização.")
		return err
	}
	return e.startLookup(ctx, conv, location, log)
}

// startLookup acknowledges immediately and schedules the unit lookup after a
// short grace period, so a follow-up correction from the contact can land
// before the result goes out.
func (e *Engine) startLookup(ctx context.Context, conv *model.Conversation, location string, log *logger.Logger) error {
	if err := e.store.SetChatbotContext(ctx, conv, map[string]string{contextLocationKey: location}); err != nil {
		return err
	}
	if _, err := e.responder.SendText(ctx, conv,
		"Um momento, estou consultando a unidade do CRAS mais próxima de você..."); err != nil {
		return err
	}
	if err := e.store.SetChatbotState(ctx, conv, StateAwaitingLookupResult); err != nil {
		return err
	}

	conversationID := conv.ID
	e.queue.EnqueueIn(e.lookupDelay, queue.Task{
		Name: "cras_lookup",
		Run: func(taskCtx context.Context) error {
			return e.completeLookup(taskCtx, conversationID)
		},
		OnPermanentFailure: func(taskCtx context.Context, err error) {
			log.Error("unit lookup failed permanently", zap.Error(err))
			e.recoverFromLookupFailure(taskCtx, conversationID)
		},
	})
	return nil
}

// completeLookup runs on the queue after the grace period. It re-reads the
// conversation because the contact may have escalated or corrected the
// location in the meantime.
func (e *Engine) completeLookup(ctx context.Context, conversationID uint) error {
	unlock := e.store.LockConversation(conversationID)
	defer unlock()

	conv, err := e.store.ConversationByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsAIHandled || conv.ChatbotState != StateAwaitingLookupResult {
		return nil
	}

	location := conv.ChatbotContext[contextLocationKey]
	unit, err := e.locator.Nearest(ctx, location)
	if err != nil {
		return fmt.Errorf("chatbot: unit lookup: %w", err)
	}

	body := fmt.Sprintf("Encontrei a unidade mais próxima:\n\n%s\n\nDeseja agendar um atendimento nesta unidade? (sim/não)",
		unit.Describe())
	if _, err := e.responder.SendText(ctx, conv, body); err != nil {
		return err
	}

	bag := map[string]string{
		contextLocationKey: location,
		contextUnitKey:     unit.Name,
	}
	if err := e.store.SetChatbotContext(ctx, conv, bag); err != nil {
		return err
	}
	return e.store.SetChatbotState(ctx, conv, StateAwaitingAppointment)
}

func (e *Engine) recoverFromLookupFailure(ctx context.Context, conversationID uint) {
	unlock := e.store.LockConversation(conversationID)
	defer unlock()

	conv, err := e.store.ConversationByID(ctx, conversationID)
	if err != nil {
		return
	}
	_, _ = e.responder.SendText(ctx, conv,
		"Desculpe, não consegui consultar as unidades agora. Tente novamente em alguns minutos.")
	_ = e.store.SetChatbotState(ctx, conv, StateGeneral)
	_ = e.store.SetChatbotContext(ctx, conv, nil)
}

func (e *Engine) handleAppointmentConfirmation(ctx context.Context, conv *model.Conversation, text string) error {
	if isAppointmentAffirmation(text) {
		unit := conv.ChatbotContext[contextUnitKey]
		body := fmt.Sprintf("Perfeito! Seu atendimento na unidade %s foi solicitado. "+
			"Você receberá a confirmação com data e horário em breve. Posso ajudar com mais alguma coisa?", unit)
		if _, err := e.responder.SendText(ctx, conv, body); err != nil {
			return err
		}
		return e.resetToBaseline(ctx, conv)
	}
	if isNegative(text) {
		if _, err := e.responder.SendText(ctx, conv,
			"Tudo bem, o agendamento não foi realizado. Se precisar, é só pedir novamente."); err != nil {
			return err
		}
		return e.resetToBaseline(ctx, conv)
	}
	_, err := e.responder.SendText(ctx, conv,
		"Não entendi. Deseja agendar o atendimento nesta unidade? Responda \"sim\" ou \"não\".")
	return err
}

func (e *Engine) askTransferConfirmation(ctx context.Context, conv *model.Conversation) error {
	if _, err := e.responder.SendText(ctx, conv,
		"Você gostaria de falar com um de nossos atendentes? (sim/não)"); err != nil {
		return err
	}
	return e.store.SetChatbotState(ctx, conv, StateConfirmingTransfer)
}

func (e *Engine) handleTransferConfirmation(ctx context.Context, conv *model.Conversation, text string, log *logger.Logger) error {
	if isTransferAffirmation(text) {
		performed, err := e.store.EscalateConversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		if performed {
			metrics.ConversationsEscalatedTotal.Inc()
			conv.ChatbotState = StateTransferred
			conv.IsAIHandled = false
			log.Info("conversation escalated to human")
		}
		_, err = e.responder.SendText(ctx, conv,
			"Certo! Você será atendido por uma pessoa da nossa equipe em instantes. Aguarde, por favor.")
		return err
	}
	if _, err := e.responder.SendText(ctx, conv,
		"Sem problemas, seguimos por aqui. Como posso ajudar?"); err != nil {
		return err
	}
	return e.resetToBaseline(ctx, conv)
}

// Escalate is the safety net applied when processing fails permanently: the
// conversation is handed to a human rather than left hanging. Guarded, so
// concurrent failures escalate once.
func (e *Engine) Escalate(ctx context.Context, conversationID uint, cause error) {
	performed, err := e.store.EscalateConversation(ctx, conversationID)
	if err != nil {
		e.logger.Error("escalation failed",
			zap.Uint("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}
	if !performed {
		return
	}
	metrics.ConversationsEscalatedTotal.Inc()
	e.logger.Warn("conversation escalated after permanent failure",
		zap.Uint("conversation_id", conversationID),
		zap.Error(cause),
	)

	conv, err := e.store.ConversationByID(ctx, conversationID)
	if err != nil {
		return
	}
	_, _ = e.responder.SendText(ctx, conv,
		"Estou com dificuldades técnicas no momento. Vou transferir você para um de nossos atendentes.")
}

func (e *Engine) resetToBaseline(ctx context.Context, conv *model.Conversation) error {
	if err := e.store.SetChatbotState(ctx, conv, StateGeneral); err != nil {
		return err
	}
	return e.store.SetChatbotContext(ctx, conv, nil)
}

// history returns recent inbound turns for model context, excluding the
// message currently being processed.
func (e *Engine) history(ctx context.Context, conv *model.Conversation) []string {
	texts, err := e.store.RecentInboundTexts(ctx, conv.ID, 6)
	if err != nil || len(texts) == 0 {
		return nil
	}
	return texts[:len(texts)-1]
}

func isNegative(text string) bool {
	switch strings.Trim(normalize(text), ".!") {
	case "não", "nao", "n", "não quero", "nao quero":
		return true
	}
	return false
}

// parseLocation accepts an 8-digit postal code (with or without punctuation)
// or "lat,lng" coordinates.
func parseLocation(text string) (string, bool) {
	t := strings.TrimSpace(text)
	if strings.Contains(t, ",") {
		parts := strings.SplitN(t, ",", 2)
		lat := strings.TrimSpace(parts[0])
		lng := strings.TrimSpace(parts[1])
		if _, err := strconv.ParseFloat(lat, 64); err == nil {
			if _, err := strconv.ParseFloat(lng, 64); err == nil {
				return lat + "," + lng, true
			}
		}
	}
	if digits := onlyDigits(t); len(digits) == 8 {
		return digits, true
	}
	return "", false
}
