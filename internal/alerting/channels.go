package alerting

import "net/http"

// ChannelConfig names the endpoints of every supported channel. A channel
// whose settings are empty is left out.
type ChannelConfig struct {
	EmailRecipients []string
	SlackWebhookURL string
	TelegramToken   string
	TelegramChatID  string
	TelegramAPIURL  string
}

// BuildChannels constructs the configured channels. sender may be nil when
// mail is not set up.
func BuildChannels(cfg ChannelConfig, sender Sender, client *http.Client) []Channel {
	var out []Channel
	if mail := NewMailChannel(sender, cfg.EmailRecipients); mail != nil {
		out = append(out, mail)
	}
	if slack := NewSlackChannel(cfg.SlackWebhookURL, client); slack != nil {
		out = append(out, slack)
	}
	if tg := NewTelegramChannel(cfg.TelegramToken, cfg.TelegramChatID, client,
		WithTelegramBaseURL(cfg.TelegramAPIURL)); tg != nil {
		out = append(out, tg)
	}
	return out
}
