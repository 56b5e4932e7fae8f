package notify

import (
	"context"
	"net/http"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// Embed colours per event type.
var discordColors = map[string]int{
	domain.EventListingBought: 0x2ecc71,
	domain.EventFeesWithdrawn: 0xf1c40f,
}

const discordDefaultColor = 0x95a5a6

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title  string         `json:"title"`
	Color  int            `json:"color"`
	Fields []discordField `json:"fields,omitempty"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordSender posts alerts as a single embed to a channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

func (d *DiscordSender) Send(ctx context.Context, a Alert) error {
	color, ok := discordColors[a.Event]
	if !ok {
		color = discordDefaultColor
	}
	embed := discordEmbed{Title: a.Title, Color: color}
	for _, f := range a.Fields {
		// Amounts fit side by side; addresses need a full row.
		embed.Fields = append(embed.Fields, discordField{
			Name:   f.Name,
			Value:  "`" + f.Value + "`",
			Inline: len(f.Value) < 24,
		})
	}
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, discordMessage{Embeds: []discordEmbed{embed}})
}

func (d *DiscordSender) Name() string { return "discord" }
