package cloud

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const textNotification = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "1234"},
        "contacts": [{"wa_id": "573001112233", "profile": {"name": "Ana"}}],
        "messages": [{
          "from": "573001112233",
          "id": "wamid.1",
          "timestamp": "1700000000",
          "type": "text",
          "text": {"body": "Hola, me interesa el inmueble AB12-3"}
        }]
      }
    }]
  }]
}`

func TestParseInboundText(t *testing.T) {
	t.Parallel()

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(textNotification), &payload))

	msg, ok := ParseInbound(payload)
	require.True(t, ok)
	assert.Equal(t, "573001112233", msg.From)
	assert.Equal(t, "1234", msg.SessionID)
	assert.Equal(t, "Ana", msg.PushName)
	assert.Equal(t, "Hola, me interesa el inmueble AB12-3", msg.Text)
	assert.False(t, msg.FromMe)
}

func TestParseInboundButtonReply(t *testing.T) {
	t.Parallel()

	raw := `{"entry":[{"changes":[{"value":{"metadata":{"phone_number_id":"1234"},
	  "messages":[{"from":"57300","type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":"visit","title":"Agendar visita"}}}]}}]}]}`
	var payload WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	msg, ok := ParseInbound(payload)
	require.True(t, ok)
	assert.Equal(t, "Agendar visita", msg.Text)
}

func TestParseInboundIgnoresStatusCallbacks(t *testing.T) {
	t.Parallel()

	raw := `{"entry":[{"changes":[{"value":{"metadata":{"phone_number_id":"1234"},"statuses":[{"id":"wamid.1","status":"read"}]}}]}]}`
	var payload WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	_, ok := ParseInbound(payload)
	assert.False(t, ok)

	_, ok = ParseInbound(WebhookPayload{})
	assert.False(t, ok)
}

func TestVerifySubscription(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		mode      string
		token     string
		expected  string
		wantOK    bool
		challenge string
	}{
		{name: "match", mode: "subscribe", token: "tok", expected: "tok", wantOK: true, challenge: "42"},
		{name: "wrong token", mode: "subscribe", token: "nope", expected: "tok"},
		{name: "wrong mode", mode: "unsubscribe", token: "tok", expected: "tok"},
		{name: "unconfigured", mode: "subscribe", token: "", expected: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := VerifySubscription(tc.mode, tc.token, "42", tc.expected)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.challenge, got)
		})
	}
}
