package notify

import (
	"context"
	"html"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts alerts to one chat through the Bot API sendMessage
// method, formatted as HTML.
type TelegramSender struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiURL: telegramAPI,
		token:  token,
		chatID: chatID,
		client: newHTTPClient(),
	}
}

// WithAPIURL points the sender at a different Bot API host.
func (t *TelegramSender) WithAPIURL(u string) *TelegramSender {
	t.apiURL = strings.TrimRight(u, "/")
	return t
}

func (t *TelegramSender) Send(ctx context.Context, a Alert) error {
	var b strings.Builder
	b.WriteString("<b>" + html.EscapeString(a.Title) + "</b>")
	for _, f := range a.Fields {
		b.WriteString("\n" + html.EscapeString(f.Name) + ": <code>" + html.EscapeString(f.Value) + "</code>")
	}

	return postJSON(ctx, t.client, t.Name(), t.apiURL+"/bot"+t.token+"/sendMessage", map[string]any{
		"chat_id":                  t.chatID,
		"text":                     b.String(),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}

func (t *TelegramSender) Name() string { return "telegram" }
