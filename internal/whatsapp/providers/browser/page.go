package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gongonut/propiedadraiz-backend/internal/whatsapp"
)

const (
	inboundBinding   = "__propiedadraizInbound"
	maxProbeFailures = 3
)

// probeScript reports what WhatsApp Web is showing. It returns JSON text so
// the Go side decodes it with encoding/json.
const probeScript = `() => {
	const wid = (localStorage.getItem('last-wid-md') || localStorage.getItem('last-wid') || '').replace(/"/g, '');
	if (document.querySelector('#pane-side')) {
		return JSON.stringify({state: 'ready', me: wid});
	}
	const qr = document.querySelector('div[data-ref]');
	if (qr) {
		return JSON.stringify({state: 'qr', qr: qr.getAttribute('data-ref') || ''});
	}
	return JSON.stringify({state: 'loading'});
}`

// observerScript forwards chat bubbles rendered after installation. Bubbles
// already on screen are marked seen so history is not replayed.
const observerScript = `() => {
	if (window.__propiedadraizObserver) return;
	window.__propiedadraizObserver = true;
	const seen = new WeakSet();
	const selector = 'div.message-in, div.message-out';
	document.querySelectorAll(selector).forEach((el) => seen.add(el));
	const emit = (el) => {
		if (seen.has(el)) return;
		seen.add(el);
		const row = el.closest('[data-id]');
		const text = el.querySelector('span.selectable-text');
		window.` + inboundBinding + `(JSON.stringify({
			id: row ? row.getAttribute('data-id') : '',
			text: text ? text.innerText : '',
		}));
	};
	new MutationObserver(() => document.querySelectorAll(selector).forEach(emit))
		.observe(document.body, {subtree: true, childList: true});
}`

type pageState string

const (
	pageLoading pageState = "loading"
	pageQR      pageState = "qr"
	pageReady   pageState = "ready"
)

type probe struct {
	State pageState `json:"state"`
	QR    string    `json:"qr"`
	Me    string    `json:"me"`
}

func parseProbe(raw string) (probe, error) {
	var p probe
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return probe{}, fmt.Errorf("decode page probe: %w", err)
	}
	return p, nil
}

var (
	errLoggedOut   = errors.New("web session logged out")
	errPageGone    = errors.New("whatsapp web page stopped responding")
	errQRExhausted = errors.New("qr code expired without a scan")
)

// transition is what one probe means for the session.
type transition struct {
	qr        string
	open      *whatsapp.Account
	close     error
	reconnect bool
}

// tracker folds page probes into session events.
type tracker struct {
	lastQR   string
	ready    bool
	failures int
}

func (t *tracker) observe(p probe) transition {
	t.failures = 0
	switch p.State {
	case pageReady:
		if t.ready {
			return transition{}
		}
		t.ready = true
		t.lastQR = ""
		account := whatsapp.Account{JID: normalizeWid(p.Me)}
		return transition{open: &account}
	case pageQR:
		// A QR screen after login means the phone unlinked this browser.
		if t.ready {
			return transition{close: errLoggedOut}
		}
		if p.QR == "" || p.QR == t.lastQR {
			return transition{}
		}
		t.lastQR = p.QR
		return transition{qr: p.QR}
	}
	return transition{}
}

func (t *tracker) fail() transition {
	t.failures++
	if t.failures < maxProbeFailures {
		return transition{}
	}
	return transition{close: errPageGone, reconnect: true}
}

// normalizeWid turns "573001112233:5@c.us" into a user JID.
func normalizeWid(wid string) string {
	wid = strings.TrimSpace(wid)
	if wid == "" {
		return ""
	}
	if user, ok := strings.CutSuffix(wid, "@c.us"); ok {
		return user + "@s.whatsapp.net"
	}
	return wid
}

type inboundPayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// parseInbound decodes an observer payload. Message ids look like
// "false_573001112233@c.us_3EB0C0FFEE"; the prefix says who sent it.
func parseInbound(raw string) (whatsapp.InboundMessage, bool) {
	var payload inboundPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return whatsapp.InboundMessage{}, false
	}
	parts := strings.SplitN(payload.ID, "_", 3)
	if len(parts) < 2 || parts[1] == "" {
		return whatsapp.InboundMessage{}, false
	}
	return whatsapp.InboundMessage{
		From:   parts[1],
		Text:   payload.Text,
		FromMe: parts[0] == "true",
		Raw:    payload,
	}, true
}

// sendURL builds the deep link that opens a chat with text prefilled.
func sendURL(base, to, text string) (string, error) {
	phone := to
	if i := strings.IndexByte(phone, '@'); i >= 0 {
		phone = phone[:i]
	}
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", fmt.Errorf("invalid recipient %q", to)
	}
	q := url.Values{}
	q.Set("phone", digits.String())
	q.Set("text", text)
	return strings.TrimRight(base, "/") + "/send?" + q.Encode(), nil
}

func imageText(url, caption string) string {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return url
	}
	return caption + "\n" + url
}
