// Package telegram posts to a chat or channel through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
)

const (
	providerName = "telegram"

	// maxAlbum is the most items sendMediaGroup accepts in one call.
	maxAlbum = 10
)

// Client implements the Poster interface for Telegram bots.
type Client struct {
	apiURL string
	http   *http.Client
}

// New constructs a Telegram poster talking to cfg.Endpoints.Telegram.
func New(cfg publish.Config, hc *http.Client) *Client {
	if hc == nil {
		hc = cfg.HTTPClient()
	}
	return &Client{apiURL: strings.TrimRight(cfg.Endpoints.Telegram, "/"), http: hc}
}

// CredentialsFromEnv reads XPUBLISH_TELEGRAM_BOT_TOKEN and XPUBLISH_TELEGRAM_CHAT_ID.
func CredentialsFromEnv() (publish.TelegramCredentials, error) {
	return publish.CredentialsFromEnv[publish.TelegramCredentials](nil)
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Provider returns publish.Telegram.
func (c *Client) Provider() publish.Provider { return publish.Telegram }

// Post sends text, a single media item, or an album and returns the id of the first message.
func (c *Client) Post(ctx context.Context, req publish.Request) (string, error) {
	creds, ok := req.Account.Credentials.(publish.TelegramCredentials)
	if !ok {
		return "", publish.ValidationError{Provider: providerName, Reason: "account does not hold telegram credentials"}
	}

	bot, err := telego.NewBot(creds.BotToken,
		telego.WithAPIServer(c.apiURL),
		telego.WithHTTPClient(c.http),
		telego.WithDiscardLogger(),
	)
	if err != nil {
		return "", fmt.Errorf("create telegram bot: %w", err)
	}

	chat := chatID(creds.ChatID)
	reply, err := replyParameters(req.Options.ReplyToID)
	if err != nil {
		return "", err
	}

	switch len(req.Media) {
	case 0:
		if strings.TrimSpace(req.Text) == "" {
			return "", &publish.PreconditionError{Provider: providerName, Reason: "Telegram requires text or media to publish."}
		}
		logutil.Debugf("telegram sendMessage: chat=%s", creds.ChatID)
		msg, err := bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID:          chat,
			Text:            req.Text,
			ReplyParameters: reply,
		})
		if err != nil {
			return "", fmt.Errorf("send message: %w", err)
		}
		return messageID(msg), nil
	case 1:
		return c.sendSingle(ctx, bot, chat, req.Media[0], req.Text, reply)
	}

	visual := publish.Visual(req.Media)
	switch len(visual) {
	case 0:
		return c.sendSingle(ctx, bot, chat, req.Media[0], req.Text, reply)
	case 1:
		return c.sendSingle(ctx, bot, chat, visual[0], req.Text, reply)
	}
	return c.sendAlbum(ctx, bot, chat, visual, req.Text, reply)
}

func (c *Client) sendSingle(ctx context.Context, bot *telego.Bot, chat telego.ChatID, item publish.MediaItem, caption string, reply *telego.ReplyParameters) (string, error) {
	file := tu.FileFromURL(item.URL)

	var (
		msg *telego.Message
		err error
	)
	switch item.Kind() {
	case publish.KindImage:
		logutil.Debugf("telegram sendPhoto: url=%s", item.URL)
		msg, err = bot.SendPhoto(ctx, &telego.SendPhotoParams{ChatID: chat, Photo: file, Caption: caption, ReplyParameters: reply})
		if err != nil {
			return "", fmt.Errorf("send photo: %w", err)
		}
	case publish.KindVideo:
		logutil.Debugf("telegram sendVideo: url=%s", item.URL)
		msg, err = bot.SendVideo(ctx, &telego.SendVideoParams{ChatID: chat, Video: file, Caption: caption, ReplyParameters: reply})
		if err != nil {
			return "", fmt.Errorf("send video: %w", err)
		}
	default:
		logutil.Debugf("telegram sendDocument: url=%s", item.URL)
		msg, err = bot.SendDocument(ctx, &telego.SendDocumentParams{ChatID: chat, Document: file, Caption: caption, ReplyParameters: reply})
		if err != nil {
			return "", fmt.Errorf("send document: %w", err)
		}
	}
	return messageID(msg), nil
}

// sendAlbum posts items in groups of at most maxAlbum. Only the very first item carries the caption.
func (c *Client) sendAlbum(ctx context.Context, bot *telego.Bot, chat telego.ChatID, items []publish.MediaItem, caption string, reply *telego.ReplyParameters) (string, error) {
	var first string
	start := 0
	for _, size := range albumBatches(len(items)) {
		batch := items[start : start+size]

		media := make([]telego.InputMedia, 0, len(batch))
		for i, item := range batch {
			text := ""
			if start == 0 && i == 0 {
				text = caption
			}
			file := tu.FileFromURL(item.URL)
			if item.Kind() == publish.KindVideo {
				m := tu.MediaVideo(file)
				m.Caption = text
				media = append(media, m)
				continue
			}
			m := tu.MediaPhoto(file)
			m.Caption = text
			media = append(media, m)
		}

		params := tu.MediaGroup(chat, media...)
		if start == 0 {
			params.ReplyParameters = reply
		}
		logutil.Debugf("telegram sendMediaGroup: items=%d offset=%d", len(batch), start)
		msgs, err := bot.SendMediaGroup(ctx, params)
		if err != nil {
			if first != "" {
				logutil.Warn("album partially sent", "provider", providerName, "first_message", first, "sent", start, "total", len(items))
			}
			return "", fmt.Errorf("send media group: %w", err)
		}
		if start == 0 {
			if len(msgs) == 0 {
				return "", &publish.MissingFieldError{Provider: providerName, Step: "sendMediaGroup", Field: "result"}
			}
			first = strconv.Itoa(msgs[0].MessageID)
		}
		start += size
	}
	return first, nil
}

// albumBatches splits n items into the fewest sendMediaGroup calls, sized evenly so that
// none falls below the two-item minimum (11 becomes 6+5, not 10+1). n must be at least 2.
func albumBatches(n int) []int {
	count := (n + maxAlbum - 1) / maxAlbum
	sizes := make([]int, count)
	for i := range sizes {
		sizes[i] = n / count
		if i < n%count {
			sizes[i]++
		}
	}
	return sizes
}

func chatID(raw string) telego.ChatID {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return tu.ID(id)
	}
	if !strings.HasPrefix(raw, "@") {
		raw = "@" + raw
	}
	return tu.Username(raw)
}

func replyParameters(raw string) (*telego.ReplyParameters, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return nil, publish.ValidationError{Provider: providerName, Reason: fmt.Sprintf("reply-to id %q is not a message id", raw)}
	}
	return &telego.ReplyParameters{MessageID: id}, nil
}

func messageID(msg *telego.Message) string {
	if msg == nil {
		return ""
	}
	return strconv.Itoa(msg.MessageID)
}
