package webhook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeRelayPayload(t *testing.T) {
	body := []byte(`{"device":"628111222333","sender":"628999888777","message":"hello","id":"wamid.abc"}`)

	in, err := Normalize(body)
	require.NoError(t, err)
	require.Equal(t, "628111222333", in.Device)
	require.Equal(t, "628999888777", in.Sender)
	require.Equal(t, "hello", in.Body)
	require.Equal(t, "text", in.Type)
	require.Equal(t, "wamid.abc", in.VendorMessageID)
	require.Empty(t, in.MediaID)
}

func officialBody(messageJSON string) []byte {
	return []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {
			"metadata": {"phone_number_id": "1015550001"},
			"messages": [` + messageJSON + `]
		}}]}]
	}`)
}

func TestNormalizeOfficialShapes(t *testing.T) {
	cases := []struct {
		name     string
		message  string
		wantType string
		wantBody string
		wantMed  string
	}{
		{
			name:     "text",
			message:  `{"from":"628999888777","id":"wamid.1","type":"text","text":{"body":"hi there"}}`,
			wantType: "text",
			wantBody: "hi there",
		},
		{
			name:     "image without caption",
			message:  `{"from":"628999888777","id":"wamid.2","type":"image","image":{"id":"media-1"}}`,
			wantType: "image",
			wantBody: "[Image]",
			wantMed:  "media-1",
		},
		{
			name:     "document with filename",
			message:  `{"from":"628999888777","id":"wamid.3","type":"document","document":{"id":"media-2","filename":"invoice.pdf"}}`,
			wantType: "document",
			wantBody: "[Document] invoice.pdf",
			wantMed:  "media-2",
		},
		{
			name:     "audio",
			message:  `{"from":"628999888777","id":"wamid.4","type":"audio","audio":{"id":"media-3"}}`,
			wantType: "audio",
			wantBody: "[Audio]",
			wantMed:  "media-3",
		},
		{
			name:     "location",
			message:  `{"from":"628999888777","id":"wamid.5","type":"location","location":{"latitude":-6.2,"longitude":106.8}}`,
			wantType: "location",
			wantBody: "[Location] https://www.google.com/maps?q=-6.2,106.8",
		},
		{
			name:     "interactive button reply",
			message:  `{"from":"628999888777","id":"wamid.6","type":"interactive","interactive":{"button_reply":{"title":"Yes please"}}}`,
			wantType: "interactive",
			wantBody: "Yes please",
		},
		{
			name:     "unknown type maps to other",
			message:  `{"from":"628999888777","id":"wamid.7","type":"sticker"}`,
			wantType: "other",
			wantBody: "[Sticker]",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, err := Normalize(officialBody(tc.message))
			require.NoError(t, err)
			require.Equal(t, "1015550001", in.Device)
			require.Equal(t, "628999888777", in.Sender)
			require.Equal(t, tc.wantType, in.Type)
			require.Equal(t, tc.wantBody, in.Body)
			require.Equal(t, tc.wantMed, in.MediaID)
		})
	}
}

func TestNormalizeImageCaption(t *testing.T) {
	in, err := Normalize(officialBody(
		`{"from":"628999888777","id":"wamid.8","type":"image","image":{"id":"media-9","caption":"look at this"}}`))
	require.NoError(t, err)
	require.Equal(t, "look at this", in.Caption)
	require.Equal(t, "media-9", in.MediaID)
}

func TestNormalizeRejectsUnknownShapes(t *testing.T) {
	cases := map[string]string{
		"empty object":   `{}`,
		"not json":       `not json at all`,
		"missing sender": `{"device":"628111222333","message":"x"}`,
		"wrong object":   `{"object":"page","entry":[]}`,
		"statuses only":  `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"metadata":{"phone_number_id":"1"},"statuses":[{"id":"wamid.9","status":"delivered"}]}}]}]}`,
		"empty entry":    `{"object":"whatsapp_business_account","entry":[]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize([]byte(body))
			require.ErrorIs(t, err, ErrNotRecognized)
		})
	}
}
