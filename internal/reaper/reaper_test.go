package reaper

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/simsocial/conversation-orchestrator/internal/chatbot"
	"github.com/simsocial/conversation-orchestrator/internal/model"
	"github.com/simsocial/conversation-orchestrator/internal/notify"
	"github.com/simsocial/conversation-orchestrator/internal/store"
	"github.com/simsocial/conversation-orchestrator/internal/transport"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
)

type recordingTransport struct {
	mu     sync.Mutex
	texts  []string
	audios []string
}

func (f *recordingTransport) SendText(_ context.Context, _ *model.Account, _, body string) (*transport.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, body)
	return &transport.SendResult{MessageID: "wamid.out." + uuid.NewString()}, nil
}

func (f *recordingTransport) SendAudio(_ context.Context, _ *model.Account, _, audioURL string) (*transport.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audios = append(f.audios, audioURL)
	return &transport.SendResult{MessageID: "wamid.out." + uuid.NewString()}, nil
}

func (f *recordingTransport) SendTemplate(_ context.Context, _ *model.Account, _, _, _ string, _ []string) (*transport.SendResult, error) {
	return &transport.SendResult{MessageID: "wamid.out." + uuid.NewString()}, nil
}

func (f *recordingTransport) SendInteractiveForm(_ context.Context, _ *model.Account, _ string, _ *transport.Form) (*transport.SendResult, error) {
	return &transport.SendResult{MessageID: "wamid.out." + uuid.NewString()}, nil
}

func (f *recordingTransport) MarkRead(_ context.Context, _ *model.Account, _ string) error {
	return nil
}

func (f *recordingTransport) MediaInfo(_ context.Context, _ *model.Account, _ string) (*transport.MediaInfo, error) {
	return &transport.MediaInfo{}, nil
}

func (f *recordingTransport) DownloadMedia(_ context.Context, _ *model.Account, _ string) ([]byte, error) {
	return nil, nil
}

type staticSynth struct{}

func (staticSynth) Synthesize(_ context.Context, _, _ string) (string, error) {
	return "/objects/tts/audio.mp3", nil
}

type reaperFixture struct {
	store     *store.Store
	reaper    *Reaper
	transport *recordingTransport
	account   *model.Account
}

func newReaperFixture(t *testing.T) *reaperFixture {
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

	tr := &recordingTransport{}
	responder := chatbot.NewResponder(st, tr, notify.NopSink{}, staticSynth{}, logger.NewNop())
	r := New(st, responder, 5*time.Minute, "* * * * *", logger.NewNop())

	return &reaperFixture{store: st, reaper: r, transport: tr, account: account}
}

// idleConversation creates a conversation whose last message has the given
// direction and type, aged past the idle threshold.
func (f *reaperFixture) idleConversation(t *testing.T, phone, lastDirection, lastType string) *model.Conversation {
	t.Helper()
	ctx := context.Background()

	contact, err := f.store.UpsertContact(ctx, phone, "Teste")
	if err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	conv, _, err := f.store.ResolveConversation(ctx, f.account, contact, 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	body := "mensagem"
	msg := &model.Message{
		MessageKey:     uuid.NewString(),
		ExternalID:     "wamid." + uuid.NewString(),
		ConversationID: conv.ID,
		ContactID:      contact.ID,
		Direction:      lastDirection,
		Type:           lastType,
		Status:         model.MessageDelivered,
		Content:        &body,
	}
	if _, err := f.store.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	old := time.Now().Add(-10 * time.Minute)
	if err := f.store.DB().Model(&model.Conversation{}).Where("id = ?", conv.ID).
		Update("updated_at", old).Error; err != nil {
		t.Fatalf("age conversation: %v", err)
	}
	return conv
}

func (f *reaperFixture) status(t *testing.T, id uint) string {
	t.Helper()
	conv, err := f.store.ConversationByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return conv.Status
}

func TestSweepClosesIdleConversation(t *testing.T) {
	f := newReaperFixture(t)
	conv := f.idleConversation(t, "5511966660001", model.DirectionOutbound, model.TypeText)

	f.reaper.Sweep(context.Background())

	if got := f.status(t, conv.ID); got != model.ConversationClosed {
		t.Errorf("expected closed, got %s", got)
	}
	if len(f.transport.texts) != 1 || !strings.Contains(f.transport.texts[0], "encerrando") {
		t.Errorf("expected a farewell before closing, got %v", f.transport.texts)
	}
}

func TestSweepSkipsWhenContactSpokeLast(t *testing.T) {
	f := newReaperFixture(t)
	conv := f.idleConversation(t, "5511966660002", model.DirectionInbound, model.TypeText)

	f.reaper.Sweep(context.Background())

	if got := f.status(t, conv.ID); got != model.ConversationOpen {
		t.Errorf("a conversation awaiting a reply must stay open, got %s", got)
	}
	if len(f.transport.texts) != 0 {
		t.Error("no farewell should be sent while the contact waits for an answer")
	}
}

func TestSweepUsesVoiceForVoiceUsers(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	// The contact spoke by voice, then the assistant replied.
	contact, err := f.store.UpsertContact(ctx, "5511966660003", "Teste")
	if err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	conv, _, err := f.store.ResolveConversation(ctx, f.account, contact, 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	transcript := "pergunta por áudio"
	in := &model.Message{
		MessageKey:     uuid.NewString(),
		ExternalID:     "wamid." + uuid.NewString(),
		ConversationID: conv.ID,
		ContactID:      contact.ID,
		Direction:      model.DirectionInbound,
		Type:           model.TypeAudio,
		Status:         model.MessageDelivered,
		Content:        &transcript,
	}
	if _, err := f.store.InsertMessage(ctx, in); err != nil {
		t.Fatalf("insert inbound: %v", err)
	}
	reply := "resposta"
	out := &model.Message{
		MessageKey:     uuid.NewString(),
		ExternalID:     "wamid." + uuid.NewString(),
		ConversationID: conv.ID,
		ContactID:      contact.ID,
		Direction:      model.DirectionOutbound,
		Type:           model.TypeText,
		Status:         model.MessageSent,
		Content:        &reply,
	}
	if _, err := f.store.InsertMessage(ctx, out); err != nil {
		t.Fatalf("insert outbound: %v", err)
	}
	old := time.Now().Add(-10 * time.Minute)
	if err := f.store.DB().Model(&model.Conversation{}).Where("id = ?", conv.ID).
		Update("updated_at", old).Error; err != nil {
		t.Fatalf("age conversation: %v", err)
	}

	f.reaper.Sweep(ctx)

	if got := f.status(t, conv.ID); got != model.ConversationClosed {
		t.Fatalf("expected closed, got %s", got)
	}
	if len(f.transport.audios) != 1 {
		t.Errorf("voice users should get a voice farewell, got %d audio sends", len(f.transport.audios))
	}
}

func TestSweepIgnoresEscalatedConversations(t *testing.T) {
	f := newReaperFixture(t)
	conv := f.idleConversation(t, "5511966660004", model.DirectionOutbound, model.TypeText)
	if _, err := f.store.EscalateConversation(context.Background(), conv.ID); err != nil {
		t.Fatalf("escalate: %v", err)
	}

	f.reaper.Sweep(context.Background())

	if got := f.status(t, conv.ID); got != model.ConversationPending {
		t.Errorf("escalated conversations belong to humans, got %s", got)
	}
}
