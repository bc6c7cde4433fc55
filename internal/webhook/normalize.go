// Package webhook parses heterogeneous inbound webhook bodies from the
// supported WhatsApp vendors into one canonical inbound value. It does no
// I/O; media referenced by a payload is downloaded later by the caller.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotRecognized means the body matched no supported provider shape.
// Callers answer with a client error and persist nothing.
var ErrNotRecognized = errors.New("payload not recognized")

// Inbound is the canonical inbound message.
type Inbound struct {
	// Device identifies the receiving account: a phone number for relay
	// vendors, the phone-number id for the official API.
	Device string
	// Sender is the customer address.
	Sender string
	// Body is the renderable text; media types carry a placeholder.
	Body string
	// Type is one of text|image|document|audio|video|location|interactive|other.
	Type string
	// VendorMessageID correlates to the upstream provider when present.
	VendorMessageID string
	// MediaID defers the media download; empty for non-media messages.
	MediaID string
	// Caption accompanies image media when the sender added one.
	Caption string
}

// relayPayload is the flat shape the relay vendors POST: a device/sender
// pair plus the message text.
type relayPayload struct {
	Device  string `json:"device"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

// officialEnvelope is the official cloud API webhook envelope.
type officialEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []officialMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type officialMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *officialMedia `json:"image"`
	Document *officialMedia `json:"document"`
	Audio    *officialMedia `json:"audio"`
	Video    *officialMedia `json:"video"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	Interactive *struct {
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

type officialMedia struct {
	ID       string `json:"id"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

// Normalize detects the provider shape by its distinguishing fields and
// extracts the canonical inbound message. Unknown or malformed bodies
// return ErrNotRecognized.
func Normalize(body []byte) (*Inbound, error) {
	var relay relayPayload
	if err := json.Unmarshal(body, &relay); err == nil && relay.Device != "" && relay.Sender != "" {
		return &Inbound{
			Device:          relay.Device,
			Sender:          relay.Sender,
			Body:            relay.Message,
			Type:            "text",
			VendorMessageID: relay.ID,
		}, nil
	}

	var env officialEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Object == "whatsapp_business_account" {
		if in := normalizeOfficial(env); in != nil {
			return in, nil
		}
	}

	return nil, ErrNotRecognized
}

func normalizeOfficial(env officialEnvelope) *Inbound {
	if len(env.Entry) == 0 || len(env.Entry[0].Changes) == 0 {
		return nil
	}
	value := env.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return nil // status/delivery notifications carry no message
	}
	msg := value.Messages[0]

	in := &Inbound{
		Device:          value.Metadata.PhoneNumberID,
		Sender:          msg.From,
		Type:            msg.Type,
		VendorMessageID: msg.ID,
	}

	switch msg.Type {
	case "text":
		if msg.Text != nil {
			in.Body = msg.Text.Body
		}
	case "image":
		in.Body = "[Image]"
		if msg.Image != nil {
			in.MediaID = msg.Image.ID
			in.Caption = msg.Image.Caption
		}
	case "document":
		in.Body = "[Document]"
		if msg.Document != nil {
			in.MediaID = msg.Document.ID
			if msg.Document.Filename != "" {
				in.Body = "[Document] " + msg.Document.Filename
			}
		}
	case "audio":
		in.Body = "[Audio]"
		if msg.Audio != nil {
			in.MediaID = msg.Audio.ID
		}
	case "video":
		in.Body = "[Video]"
		if msg.Video != nil {
			in.MediaID = msg.Video.ID
		}
	case "location":
		if msg.Location != nil {
			in.Body = fmt.Sprintf("[Location] https://www.google.com/maps?q=%v,%v",
				msg.Location.Latitude, msg.Location.Longitude)
		} else {
			in.Body = "[Location]"
		}
	case "interactive":
		in.Body = "Interactive Message"
		if msg.Interactive != nil {
			if msg.Interactive.ButtonReply != nil {
				in.Body = msg.Interactive.ButtonReply.Title
			} else if msg.Interactive.ListReply != nil {
				in.Body = msg.Interactive.ListReply.Title
			}
		}
	default:
		in.Body = "[" + capitalize(msg.Type) + "]"
		in.Type = "other"
	}

	return in
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
