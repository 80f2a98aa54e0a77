package notification

import (
	"context"
	"fmt"
	"log"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to a chat through the Bot API using
// MarkdownV2 formatting.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	poster   jsonPoster
}

// NewTelegramNotifier targets chatID with the given bot token.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		poster:   newJSONPoster("telegram"),
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := telegramMessage{ChatID: t.chatID, Text: renderTelegram(alert), ParseMode: "MarkdownV2"}
	url := t.baseURL + "/bot" + t.botToken + "/sendMessage"
	if err := t.poster.post(ctx, url, msg); err != nil {
		return err
	}
	log.Printf("[telegram] sent %s alert: %s", alert.Level, alert.Title)
	return nil
}

// renderTelegram builds the message body: a level marker with the bold
// title, the message, then the fields in a code block.
func renderTelegram(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*", levelMarker(alert.Level), escapeMarkdown(alert.Title))
	if alert.Symbol != "" {
		fmt.Fprintf(&b, " \\#%s", escapeMarkdown(alert.Symbol))
	}
	b.WriteString("\n\n")
	b.WriteString(escapeMarkdown(alert.Message))
	if len(alert.Fields) > 0 {
		b.WriteString("\n\n```\n")
		b.WriteString(escapeCode(formatFields(alert.Fields)))
		b.WriteString("\n```")
	}
	return b.String()
}

func levelMarker(l AlertLevel) string {
	switch l {
	case AlertCritical:
		return "🚨"
	case AlertWarning:
		return "⚠️"
	}
	return "ℹ️"
}

var (
	markdownEscaper = newEscaper("_*[]()~`>#+-=|{}.!\\")
	codeEscaper     = newEscaper("`\\")
)

func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

func escapeCode(s string) string { return codeEscaper.Replace(s) }

func newEscaper(specials string) *strings.Replacer {
	pairs := make([]string, 0, 2*len(specials))
	for _, c := range specials {
		pairs = append(pairs, string(c), "\\"+string(c))
	}
	return strings.NewReplacer(pairs...)
}
