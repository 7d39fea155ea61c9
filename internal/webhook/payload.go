// Package webhook decodes and ingests inbound messaging-platform events:
// message deliveries, delivery-status callbacks and interactive replies.
package webhook

import (
	"fmt"
	"strconv"
	"time"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// Payload is the envelope posted by the messaging platform.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes under one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field update inside an entry.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the event body: either messages or statuses, never both in
// practice. Metadata routes the event to the receiving account.
type Value struct {
	MessagingProduct string        `json:"messaging_product"`
	Metadata         Metadata      `json:"metadata"`
	Contacts         []WireContact `json:"contacts"`
	Messages         []WireMessage `json:"messages"`
	Statuses         []WireStatus  `json:"statuses"`
}

// Metadata identifies the receiving phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// WireContact is the sender's profile as reported by the platform.
type WireContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// WireMedia is the media descriptor embedded in media messages.
type WireMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
	Voice    bool   `json:"voice"`
}

// WireLocation is a shared location.
type WireLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

// WireInteractive is an interactive reply: a tapped button/list row or a
// completed form (nfm_reply).
type WireInteractive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply"`
	ListReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"list_reply"`
	NFMReply *struct {
		Name         string `json:"name"`
		Body         string `json:"body"`
		ResponseJSON string `json:"response_json"`
	} `json:"nfm_reply"`
}

// WireMessage is a single inbound message.
type WireMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image       *WireMedia       `json:"image"`
	Video       *WireMedia       `json:"video"`
	Audio       *WireMedia       `json:"audio"`
	Document    *WireMedia       `json:"document"`
	Sticker     *WireMedia       `json:"sticker"`
	Location    *WireLocation    `json:"location"`
	Interactive *WireInteractive `json:"interactive"`
}

// WireStatus is a delivery-status callback for an earlier outbound send.
type WireStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code    int    `json:"code"`
		Title   string `json:"title"`
		Message string `json:"message"`
	} `json:"errors"`
}

// At parses the event timestamp (unix seconds); falls back to now.
func (m *WireMessage) At() time.Time {
	return parseUnix(m.Timestamp)
}

// At parses the callback timestamp (unix seconds); falls back to now.
func (s *WireStatus) At() time.Time {
	return parseUnix(s.Timestamp)
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(sec, 0)
}

// ErrorText joins the callback's error details, if any.
func (s *WireStatus) ErrorText() string {
	if len(s.Errors) == 0 {
		return ""
	}
	e := s.Errors[0]
	if e.Message != "" {
		return fmt.Sprintf("%d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Code, e.Title)
}

// media returns the media descriptor for media-bearing types, or nil.
func (m *WireMessage) media() *WireMedia {
	switch m.Type {
	case model.TypeImage:
		return m.Image
	case model.TypeVideo:
		return m.Video
	case model.TypeAudio:
		return m.Audio
	case model.TypeDocument:
		return m.Document
	case model.TypeSticker:
		return m.Sticker
	}
	return nil
}

// content extracts the text content recorded on the message row: the body
// for text, the caption for media, coordinates for locations and the tapped
// option title for interactive replies. Nil when there is nothing textual.
func (m *WireMessage) content() *string {
	var s string
	switch m.Type {
	case model.TypeText:
		if m.Text == nil {
			return nil
		}
		s = m.Text.Body
	case model.TypeImage, model.TypeVideo, model.TypeDocument:
		media := m.media()
		if media == nil || media.Caption == "" {
			return nil
		}
		s = media.Caption
	case model.TypeLocation:
		if m.Location == nil {
			return nil
		}
		s = fmt.Sprintf("%f,%f", m.Location.Latitude, m.Location.Longitude)
	case model.TypeInteractive:
		if m.Interactive == nil {
			return nil
		}
		if m.Interactive.ButtonReply != nil {
			s = m.Interactive.ButtonReply.Title
		} else if m.Interactive.ListReply != nil {
			s = m.Interactive.ListReply.Title
		} else {
			return nil
		}
	default:
		return nil
	}
	return &s
}

// isFormReply reports whether this is a completed-form submission, which is
// routed to the form handler instead of the dialogue engine.
func (m *WireMessage) isFormReply() bool {
	return m.Type == model.TypeInteractive && m.Interactive != nil && m.Interactive.NFMReply != nil
}
