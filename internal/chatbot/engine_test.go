package chatbot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/simsocial/conversation-orchestrator/internal/llm"
	"github.com/simsocial/conversation-orchestrator/internal/model"
	"github.com/simsocial/conversation-orchestrator/internal/notify"
	"github.com/simsocial/conversation-orchestrator/internal/queue"
	"github.com/simsocial/conversation-orchestrator/internal/store"
	"github.com/simsocial/conversation-orchestrator/internal/transport"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
)

type fakeTransport struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeTransport) SendText(_ context.Context, _ *model.Account, _, body string) (*transport.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, body)
	return &transport.SendResult{MessageID: "wamid.out." + uuid.NewString()}, nil
}

func (f *fakeTransport) SendAudio(_ context.Context, _ *model.Account, _, _ string) (*transport.SendResult, error) {
	return &transport.SendResult{MessageID: "wamid.out." + uuid.NewString()}, nil
}

func (f *fakeTransport) SendTemplate(_ context.Context, _ *model.Account, _, _, _ string, _ []string) (*transport.SendResult, error) {
	return &transport.SendResult{MessageID: "wamid.out." + uuid.NewString()}, nil
}

func (f *fakeTransport) SendInteractiveForm(_ context.Context, _ *model.Account, _ string, _ *transport.Form) (*transport.SendResult, error) {
	return &transport.SendResult{MessageID: "wamid.out." + uuid.NewString()}, nil
}

func (f *fakeTransport) MarkRead(_ context.Context, _ *model.Account, _ string) error {
	return nil
}

func (f *fakeTransport) MediaInfo(_ context.Context, _ *model.Account, _ string) (*transport.MediaInfo, error) {
	return &transport.MediaInfo{}, nil
}

func (f *fakeTransport) DownloadMedia(_ context.Context, _ *model.Account, _ string) ([]byte, error) {
	return nil, nil
}

type fakeLLM struct {
	mu            sync.Mutex
	classifyCalls int
	analyzeCalls  int
	answerCalls   int
	analysis      llm.Analysis
	analyzeErr    error
	classifyErr   error
	answer        string
}

func (f *fakeLLM) ClassifyIntent(_ context.Context, _ []string, _ string) (llm.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifyCalls++
	if f.classifyErr != nil {
		return llm.IntentGeneral, f.classifyErr
	}
	return f.analysis.Intent, nil
}

func (f *fakeLLM) AnswerQuestion(_ context.Context, _ []string, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answerCalls++
	return f.answer, nil
}

func (f *fakeLLM) AnalyzeMessage(_ context.Context, _ []string, _ string) (*llm.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzeCalls++
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	a := f.analysis
	return &a, nil
}

func (f *fakeLLM) Name() string { return "fake" }

type engineFixture struct {
	engine    *Engine
	store     *store.Store
	queue     *queue.Queue
	transport *fakeTransport
	llm       *fakeLLM
	conv      *model.Conversation
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	account := &model.Account{Name: "Main", PhoneNumberID: "123456", AccessToken: "token"}
	if err := st.CreateAccount(ctx, account); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	contact, err := st.UpsertContact(ctx, "5511977770001", "Ana")
	if err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	conv, _, err := st.ResolveConversation(ctx, account, contact, 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	tr := &fakeTransport{}
	client := &fakeLLM{answer: "Posso ajudar com isso.", analysis: llm.Analysis{Intent: llm.IntentGeneral}}
	q := queue.New(1, 0, logger.NewNop())
	q.Start(ctx)

	responder := NewResponder(st, tr, notify.NopSink{}, nil, logger.NewNop())
	engine := NewEngine(st, client, responder, q, NewStaticLocator(), logger.NewNop())
	engine.lookupDelay = 0 // immediate in tests

	return &engineFixture{engine: engine, store: st, queue: q, transport: tr, llm: client, conv: conv}
}

func (f *engineFixture) inbound(t *testing.T, body string) *model.Message {
	t.Helper()
	msg := &model.Message{
		MessageKey:     uuid.NewString(),
		ExternalID:     "wamid." + uuid.NewString(),
		ConversationID: f.conv.ID,
		ContactID:      f.conv.ContactID,
		Direction:      model.DirectionInbound,
		Type:           model.TypeText,
		Status:         model.MessageDelivered,
		Content:        &body,
	}
	if _, err := f.store.InsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("insert inbound: %v", err)
	}
	return msg
}

func (f *engineFixture) state(t *testing.T) string {
	t.Helper()
	conv, err := f.store.ConversationByID(context.Background(), f.conv.ID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	return conv.ChatbotState
}

func TestFreshConversationGreets(t *testing.T) {
	f := newEngineFixture(t)
	msg := f.inbound(t, "oi")

	if err := f.engine.HandleInbound(context.Background(), f.conv, msg, true); err != nil {
		t.Fatalf("handle: %v", err)
	}

	sent := f.transport.sent()
	if len(sent) < 2 {
		t.Fatalf("expected greeting plus answer, got %d sends", len(sent))
	}
	if !strings.Contains(sent[0], "Ana") {
		t.Errorf("greeting should address the contact by name: %q", sent[0])
	}
}

func TestScheduleKeywordAsksLocation(t *testing.T) {
	f := newEngineFixture(t)
	msg := f.inbound(t, "quero agendar um atendimento")

	if err := f.engine.HandleInbound(context.Background(), f.conv, msg, false); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := f.state(t); got != StateAwaitingLocation {
		t.Errorf("expected %q, got %q", StateAwaitingLocation, got)
	}
	if f.llm.analyzeCalls != 0 || f.llm.answerCalls != 0 {
		t.Error("keyword intents must not consult the model")
	}
	sent := f.transport.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "CEP") {
		t.Errorf("expected the location prompt, got %v", sent)
	}
}

func TestInvalidLocationRetriesInState(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	msg := f.inbound(t, "agendar")
	if err := f.engine.HandleInbound(ctx, f.conv, msg, false); err != nil {
		t.Fatalf("handle intent: %v", err)
	}

	bad := f.inbound(t, "meu cep é perto da praça")
	if err := f.engine.HandleInbound(ctx, f.conv, bad, false); err != nil {
		t.Fatalf("handle bad location: %v", err)
	}

	if got := f.state(t); got != StateAwaitingLocation {
		t.Errorf("invalid location must keep the state, got %q", got)
	}
}

func TestValidPostalCodeRunsLookup(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	msg := f.inbound(t, "agendar")
	if err := f.engine.HandleInbound(ctx, f.conv, msg, false); err != nil {
		t.Fatalf("handle intent: %v", err)
	}

	cep := f.inbound(t, "01001-000")
	if err := f.engine.HandleInbound(ctx, f.conv, cep, false); err != nil {
		t.Fatalf("handle cep: %v", err)
	}
	f.queue.Stop() // drain the lookup task

	if got := f.state(t); got != StateAwaitingAppointment {
		t.Fatalf("expected %q after lookup, got %q", StateAwaitingAppointment, got)
	}

	sent := f.transport.sent()
	last := sent[len(sent)-1]
	if !strings.Contains(last, "CRAS") || !strings.Contains(last, "sim/não") {
		t.Errorf("expected unit result with confirmation prompt, got %q", last)
	}
}

func TestAppointmentAffirmationIsDeterministic(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.store.SetChatbotState(ctx, f.conv, StateAwaitingAppointment); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if err := f.store.SetChatbotContext(ctx, f.conv, map[string]string{contextUnitKey: "CRAS Sé"}); err != nil {
		t.Fatalf("set context: %v", err)
	}

	msg := f.inbound(t, "Sim!")
	if err := f.engine.HandleInbound(ctx, f.conv, msg, false); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.llm.analyzeCalls+f.llm.classifyCalls+f.llm.answerCalls != 0 {
		t.Error("confirmation handling must not consult the model")
	}
	if got := f.state(t); got != StateGeneral {
		t.Errorf("expected baseline after confirmation, got %q", got)
	}
	sent := f.transport.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "CRAS Sé") {
		t.Errorf("confirmation should name the unit, got %v", sent)
	}
}

func TestAppointmentDeclineResets(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.store.SetChatbotState(ctx, f.conv, StateAwaitingAppointment); err != nil {
		t.Fatalf("set state: %v", err)
	}

	msg := f.inbound(t, "não")
	if err := f.engine.HandleInbound(ctx, f.conv, msg, false); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := f.state(t); got != StateGeneral {
		t.Errorf("expected baseline after decline, got %q", got)
	}
}

func TestTransferConfirmationEscalates(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	msg := f.inbound(t, "quero falar com um atendente")
	if err := f.engine.HandleInbound(ctx, f.conv, msg, false); err != nil {
		t.Fatalf("handle intent: %v", err)
	}
	if got := f.state(t); got != StateConfirmingTransfer {
		t.Fatalf("expected %q, got %q", StateConfirmingTransfer, got)
	}

	yes := f.inbound(t, "sim")
	if err := f.engine.HandleInbound(ctx, f.conv, yes, false); err != nil {
		t.Fatalf("handle confirmation: %v", err)
	}

	conv, err := f.store.ConversationByID(ctx, f.conv.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if conv.Status != model.ConversationPending || conv.IsAIHandled {
		t.Errorf("expected pending human handoff, got status=%s ai=%v", conv.Status, conv.IsAIHandled)
	}
	if conv.ChatbotState != StateTransferred {
		t.Errorf("expected %q, got %q", StateTransferred, conv.ChatbotState)
	}

	// Once transferred, further messages are left to the human.
	before := len(f.transport.sent())
	after := f.inbound(t, "mais uma pergunta")
	if err := f.engine.HandleInbound(ctx, f.conv, after, false); err != nil {
		t.Fatalf("handle after transfer: %v", err)
	}
	if len(f.transport.sent()) != before {
		t.Error("transferred conversations must not get bot replies")
	}
}

func TestTransferDeclineResumesConversation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.store.SetChatbotState(ctx, f.conv, StateConfirmingTransfer); err != nil {
		t.Fatalf("set state: %v", err)
	}

	msg := f.inbound(t, "não, deixa")
	if err := f.engine.HandleInbound(ctx, f.conv, msg, false); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := f.state(t); got != StateGeneral {
		t.Errorf("expected baseline after decline, got %q", got)
	}
	conv, _ := f.store.ConversationByID(ctx, f.conv.ID)
	if !conv.IsAIHandled {
		t.Error("declined transfer must keep the conversation with the bot")
	}
}

func TestPIIMessageIsRefused(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.analysis = llm.Analysis{ContainsPII: true, PIIType: "cpf", Intent: llm.IntentGeneral}

	msg := f.inbound(t, "meu cpf é 123.456.789-00, pode consultar?")
	if err := f.engine.HandleInbound(context.Background(), f.conv, msg, false); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.llm.answerCalls != 0 {
		t.Error("PII messages must not reach answer generation")
	}
	sent := f.transport.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "dados pessoais") {
		t.Errorf("expected the refusal message, got %v", sent)
	}
}

func TestUnsupportedMediaGetsGenericAck(t *testing.T) {
	f := newEngineFixture(t)
	caption := ""
	msg := &model.Message{
		MessageKey:     uuid.NewString(),
		ExternalID:     "wamid." + uuid.NewString(),
		ConversationID: f.conv.ID,
		ContactID:      f.conv.ContactID,
		Direction:      model.DirectionInbound,
		Type:           model.TypeImage,
		Status:         model.MessageDelivered,
		Content:        &caption,
	}
	if _, err := f.store.InsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := f.engine.HandleInbound(context.Background(), f.conv, msg, false); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.llm.analyzeCalls+f.llm.answerCalls != 0 {
		t.Error("media acks must not consult the model")
	}
	sent := f.transport.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one ack, got %d", len(sent))
	}
}

func TestEscalateSafetyNetRunsOnce(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.engine.Escalate(ctx, f.conv.ID, context.DeadlineExceeded)
	f.engine.Escalate(ctx, f.conv.ID, context.DeadlineExceeded)

	conv, err := f.store.ConversationByID(ctx, f.conv.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if conv.Status != model.ConversationPending {
		t.Errorf("expected pending, got %s", conv.Status)
	}
	// One apology, not two.
	if got := len(f.transport.sent()); got != 1 {
		t.Errorf("expected exactly one handoff notice, got %d", got)
	}
}

func TestAnalysisFailureFallsBackToClassification(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.analyzeErr = errors.New("malformed model output")
	f.llm.analysis = llm.Analysis{Intent: llm.IntentScheduleOrUpdate}
	msg := f.inbound(t, "tem como ver isso pra mim?")

	if err := f.engine.HandleInbound(context.Background(), f.conv, msg, false); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.llm.classifyCalls != 1 {
		t.Errorf("expected one classification fallback, got %d", f.llm.classifyCalls)
	}
	if got := f.state(t); got != StateAwaitingLocation {
		t.Errorf("classified scheduling intent must ask for a location, got state %q", got)
	}
	if f.llm.answerCalls != 0 {
		t.Error("a routed intent must not also produce a free-text answer")
	}
}

func TestAnalysisAndClassificationFailureAnswersDirectly(t *testing.T) {
	f := newEngineFixture(t)
	f.llm.analyzeErr = errors.New("malformed model output")
	f.llm.classifyErr = errors.New("timeout")
	msg := f.inbound(t, "como funciona o Cadastro Único?")

	if err := f.engine.HandleInbound(context.Background(), f.conv, msg, false); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if f.llm.answerCalls != 1 {
		t.Errorf("expected a direct answer, got %d answer calls", f.llm.answerCalls)
	}
	if got := f.state(t); got != StateGeneral {
		t.Errorf("conversation must stay in the baseline state, got %q", got)
	}
}
