package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/simsocial/conversation-orchestrator/internal/model"
	"github.com/simsocial/conversation-orchestrator/internal/notify"
	"github.com/simsocial/conversation-orchestrator/internal/queue"
	"github.com/simsocial/conversation-orchestrator/internal/storage"
	"github.com/simsocial/conversation-orchestrator/internal/store"
	"github.com/simsocial/conversation-orchestrator/internal/transport"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
)

type fakeTransport struct {
	mu        sync.Mutex
	markReads []string
}

func (f *fakeTransport) SendText(_ context.Context, _ *model.Account, _, _ string) (*transport.SendResult, error) {
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

func (f *fakeTransport) MarkRead(_ context.Context, _ *model.Account, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReads = append(f.markReads, externalID)
	return nil
}

func (f *fakeTransport) MediaInfo(_ context.Context, _ *model.Account, mediaID string) (*transport.MediaInfo, error) {
	return &transport.MediaInfo{URL: "https://media.example/" + mediaID, MimeType: "image/jpeg"}, nil
}

func (f *fakeTransport) DownloadMedia(_ context.Context, _ *model.Account, _ string) ([]byte, error) {
	return []byte("media-bytes"), nil
}

type fakeDialogue struct {
	mu            sync.Mutex
	inboundCalls  int
	formCalls     int
	escalations   int
	lastFresh     bool
	lastMessageID string
}

func (f *fakeDialogue) HandleInbound(_ context.Context, _ *model.Conversation, msg *model.Message, fresh bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inboundCalls++
	f.lastFresh = fresh
	f.lastMessageID = msg.ExternalID
	return nil
}

func (f *fakeDialogue) HandleFormReply(_ context.Context, _ *model.Conversation, _ *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.formCalls++
	return nil
}

func (f *fakeDialogue) Escalate(_ context.Context, _ uint, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations++
}

type gateFixture struct {
	gate     *Gate
	store    *store.Store
	queue    *queue.Queue
	dialogue *fakeDialogue
	account  *model.Account
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	st, err := store.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	account := &model.Account{Name: "Main", PhoneNumberID: "123456", AccessToken: "token"}
	if err := st.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	objects, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("object store: %v", err)
	}

	q := queue.New(1, 0, logger.NewNop())
	q.Start(context.Background())

	dialogue := &fakeDialogue{}
	gate := NewGate(st, q, objects, &fakeTransport{}, dialogue, notify.NopSink{}, nil, 0, logger.NewNop())

	return &gateFixture{gate: gate, store: st, queue: q, dialogue: dialogue, account: account}
}

// drain waits for every queued task to finish.
func (f *gateFixture) drain() {
	f.queue.Stop()
}

func textPayload(phoneNumberID, from, externalID, body string) *Payload {
	raw := fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "business-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "5511000000000", "phone_number_id": %q},
					"contacts": [{"wa_id": %q, "profile": {"name": "Maria"}}],
					"messages": [{
						"from": %q,
						"id": %q,
						"timestamp": "1714000000",
						"type": "text",
						"text": {"body": %q}
					}]
				}
			}]
		}]
	}`, phoneNumberID, from, from, externalID, body)

	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		panic(err)
	}
	return &payload
}

func TestIngestAcceptsTextMessage(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	f.gate.Process(ctx, textPayload("123456", "5511999990001", "wamid.T1", "olá"))
	f.drain()

	msg, err := f.store.MessageByExternalID(ctx, "wamid.T1")
	if err != nil || msg == nil {
		t.Fatalf("message not persisted: %v", err)
	}
	if msg.Direction != model.DirectionInbound || msg.Text() != "olá" {
		t.Errorf("unexpected message: %+v", msg)
	}

	if f.dialogue.inboundCalls != 1 {
		t.Errorf("expected one dialogue invocation, got %d", f.dialogue.inboundCalls)
	}
	if !f.dialogue.lastFresh {
		t.Error("first contact should open a fresh conversation")
	}
}

func TestIngestReplayIsIdempotent(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	payload := textPayload("123456", "5511999990002", "wamid.T2", "oi")
	f.gate.Process(ctx, payload)
	f.gate.Process(ctx, payload)
	f.drain()

	if f.dialogue.inboundCalls != 1 {
		t.Errorf("replay should not reach the engine again, got %d calls", f.dialogue.inboundCalls)
	}
}

func TestIngestDropsUnknownAccount(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	f.gate.Process(ctx, textPayload("999999", "5511999990003", "wamid.T3", "oi"))
	f.drain()

	msg, err := f.store.MessageByExternalID(ctx, "wamid.T3")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if msg != nil {
		t.Error("message for unknown account should not persist")
	}
	if f.dialogue.inboundCalls != 0 {
		t.Errorf("engine should not run for unknown accounts, got %d calls", f.dialogue.inboundCalls)
	}
}

func TestIngestRoutesFormReplyToFormHandler(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	raw := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "business-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "5511000000000", "phone_number_id": "123456"},
					"contacts": [{"wa_id": "5511999990004", "profile": {"name": "João"}}],
					"messages": [{
						"from": "5511999990004",
						"id": "wamid.F1",
						"timestamp": "1714000000",
						"type": "interactive",
						"interactive": {
							"type": "nfm_reply",
							"nfm_reply": {
								"name": "flow",
								"body": "Sent",
								"response_json": "{\"rating\":\"0_Excelente\"}"
							}
						}
					}]
				}
			}]
		}]
	}`
	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	f.gate.Process(ctx, &payload)
	f.drain()

	if f.dialogue.formCalls != 1 {
		t.Errorf("expected one form handler call, got %d", f.dialogue.formCalls)
	}
	if f.dialogue.inboundCalls != 0 {
		t.Errorf("form replies must bypass the dialogue engine, got %d calls", f.dialogue.inboundCalls)
	}

	msg, err := f.store.MessageByExternalID(ctx, "wamid.F1")
	if err != nil || msg == nil {
		t.Fatalf("form message not persisted: %v", err)
	}
	interactive, ok := msg.Metadata["interactive"].(map[string]any)
	if !ok {
		t.Fatal("interactive payload not kept on metadata")
	}
	if _, ok := interactive["nfm_reply"]; !ok {
		t.Error("nfm_reply missing from metadata")
	}
}

func TestIngestStatusCallback(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	// Seed an outbound message the callback refers to.
	contact := seedTestContact(t, f.store, "5511999990005")
	conv, _, err := f.store.ResolveConversation(ctx, f.account, contact, 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	body := "mensagem"
	out := &model.Message{
		MessageKey:     uuid.NewString(),
		ExternalID:     "wamid.OUT1",
		ConversationID: conv.ID,
		ContactID:      contact.ID,
		Direction:      model.DirectionOutbound,
		Type:           model.TypeText,
		Status:         model.MessageSent,
		Content:        &body,
	}
	if _, err := f.store.InsertMessage(ctx, out); err != nil {
		t.Fatalf("seed outbound: %v", err)
	}

	raw := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "business-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "5511000000000", "phone_number_id": "123456"},
					"statuses": [{
						"id": "wamid.OUT1",
						"status": "delivered",
						"timestamp": "1714000100",
						"recipient_id": "5511999990005"
					}]
				}
			}]
		}]
	}`
	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	f.gate.Process(ctx, &payload)
	f.drain()

	got, err := f.store.MessageByExternalID(ctx, "wamid.OUT1")
	if err != nil || got == nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != model.MessageDelivered {
		t.Errorf("expected delivered, got %s", got.Status)
	}
	if got.DeliveredAt == nil {
		t.Error("delivered_at not stamped")
	}
}

func TestIngestIgnoresUnknownStatus(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	raw := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "business-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "5511000000000", "phone_number_id": "123456"},
					"statuses": [{"id": "wamid.GHOST", "status": "read", "timestamp": "1714000100"}]
				}
			}]
		}]
	}`
	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	// Must not panic or error-log into oblivion; simply a no-op.
	f.gate.Process(ctx, &payload)
	f.drain()
}

func seedTestContact(t *testing.T, st *store.Store, phone string) *model.Contact {
	t.Helper()
	contact, err := st.UpsertContact(context.Background(), phone, "Teste")
	if err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return contact
}

func statusPayload(phoneNumberID, externalID, status string) *Payload {
	raw := fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "business-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "5511000000000", "phone_number_id": %q},
					"statuses": [{"id": %q, "status": %q, "timestamp": "1714000100"}]
				}
			}]
		}]
	}`, phoneNumberID, externalID, status)

	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		panic(err)
	}
	return &payload
}

func TestIngestReplayLeavesClosedConversationClosed(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	payload := textPayload("123456", "5511999990006", "wamid.T7", "oi")
	f.gate.Process(ctx, payload)

	var conv model.Conversation
	if err := f.store.DB().Where("account_id = ?", f.account.ID).First(&conv).Error; err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	if err := f.store.CloseConversation(ctx, conv.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	f.gate.Process(ctx, payload)
	f.drain()

	if err := f.store.DB().First(&conv, conv.ID).Error; err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if conv.Status != model.ConversationClosed {
		t.Errorf("redelivered event must not reopen the conversation, got status %q", conv.Status)
	}
	if f.dialogue.inboundCalls != 1 {
		t.Errorf("redelivered event must not reach the engine, got %d calls", f.dialogue.inboundCalls)
	}
}

func TestIngestStatusReplayMovesCampaignCounterOnce(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	contact := seedTestContact(t, f.store, "5511999990007")
	c := &model.Campaign{
		AccountID:     f.account.ID,
		Name:          "Avisos",
		TemplateName:  "aviso_geral",
		Status:        model.CampaignRunning,
		TotalContacts: 1,
	}
	if err := f.store.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	if err := f.store.AddCampaignRecipients(ctx, c, []model.Contact{*contact}); err != nil {
		t.Fatalf("seed recipient: %v", err)
	}
	var recipient model.CampaignContact
	if err := f.store.DB().Where("campaign_id = ?", c.ID).First(&recipient).Error; err != nil {
		t.Fatalf("load recipient: %v", err)
	}
	if err := f.store.MarkRecipientSent(ctx, &recipient, "wamid.C1"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	delivered := statusPayload("123456", "wamid.C1", "delivered")
	f.gate.Process(ctx, delivered)
	f.gate.Process(ctx, delivered)
	read := statusPayload("123456", "wamid.C1", "read")
	f.gate.Process(ctx, read)
	f.gate.Process(ctx, read)
	f.drain()

	got, err := f.store.CampaignByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("reload campaign: %v", err)
	}
	if got.DeliveredCount != 1 {
		t.Errorf("delivered_count must move once per recipient, got %d", got.DeliveredCount)
	}
	if got.ReadCount != 1 {
		t.Errorf("read_count must move once per recipient, got %d", got.ReadCount)
	}
	if err := f.store.DB().First(&recipient, recipient.ID).Error; err != nil {
		t.Fatalf("reload recipient: %v", err)
	}
	if recipient.Status != model.RecipientRead {
		t.Errorf("expected recipient status read, got %q", recipient.Status)
	}
}

func TestStatusAppliedPerTransition(t *testing.T) {
	now := time.Now()
	msg := &model.Message{Status: model.MessageDelivered, SentAt: &now, DeliveredAt: &now}

	if !statusApplied(msg, model.MessageSent) {
		t.Error("sent callback already applied")
	}
	if !statusApplied(msg, model.MessageDelivered) {
		t.Error("delivered callback already applied")
	}
	if statusApplied(msg, model.MessageRead) {
		t.Error("read callback not yet applied")
	}
	if statusApplied(msg, model.MessageFailed) {
		t.Error("failure callback not yet applied")
	}
}
