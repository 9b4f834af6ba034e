// Package telegram はチャットプラットフォームとの境界です。
// ボット本体はここで定義する API インターフェースだけに依存し、
// 送受信の実体は tgbotapi に委ねます。
package telegram

import (
	"errors"
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/yourusername/payload-relay/internal/keyboard"
)

// MessageRef は送信済みメッセージの参照です。
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// API はボットが必要とするチャット操作の集合です。
type API interface {
	SendMessage(chatID int64, text string, rows [][]keyboard.Button) (MessageRef, error)
	EditMessage(ref MessageRef, text string, rows [][]keyboard.Button) error
	SendDocumentFile(chatID int64, path string) (fileID string, err error)
	SendDocumentByID(chatID int64, fileID string) error
	AnswerCallback(callbackID string) error
	IsChannelMember(channel string, userID int64) (bool, error)
}

// Client は tgbotapi を用いた API の実装です。
type Client struct {
	bot    *tgbotapi.BotAPI
	logger *log.Logger
}

// NewClient は Telegram へ接続してクライアントを作成します。
func NewClient(token string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	logger.Printf("authorized on telegram account %s", bot.Self.UserName)
	return &Client{bot: bot, logger: logger}, nil
}

// RegisterWebhook は公開URLをTelegramへ登録します。
func (c *Client) RegisterWebhook(publicURL string) error {
	wh, err := tgbotapi.NewWebhook(publicURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := c.bot.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	return nil
}

// SendMessage はHTMLモードでメッセージを送信します。
func (c *Client) SendMessage(chatID int64, text string, rows [][]keyboard.Button) (MessageRef, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if rows != nil {
		msg.ReplyMarkup = markupFromRows(rows)
	}
	sent, err := c.bot.Send(msg)
	if err != nil {
		return MessageRef{}, err
	}
	return MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// EditMessage は既存メッセージの本文とキーボードを書き換えます。
func (c *Client) EditMessage(ref MessageRef, text string, rows [][]keyboard.Button) error {
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if rows != nil {
		markup := markupFromRows(rows)
		edit.ReplyMarkup = &markup
	}
	_, err := c.bot.Send(edit)
	return err
}

// SendDocumentFile はローカルファイルをアップロードし、再利用可能な
// file_id を返します。
func (c *Client) SendDocumentFile(chatID int64, path string) (string, error) {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	sent, err := c.bot.Send(doc)
	if err != nil {
		return "", err
	}
	if sent.Document == nil {
		return "", fmt.Errorf("document upload returned no file id")
	}
	return sent.Document.FileID, nil
}

// SendDocumentByID はキャッシュ済み file_id でドキュメントを送信します。
func (c *Client) SendDocumentByID(chatID int64, fileID string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileID(fileID))
	_, err := c.bot.Send(doc)
	return err
}

// AnswerCallback はコールバッククエリへ応答します。
func (c *Client) AnswerCallback(callbackID string) error {
	callback := tgbotapi.NewCallback(callbackID, "")
	_, err := c.bot.Request(callback)
	return err
}

// IsChannelMember はユーザーが指定チャンネルに参加しているかを返します。
func (c *Client) IsChannelMember(channel string, userID int64) (bool, error) {
	member, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: channel,
			UserID:             userID,
		},
	})
	if err != nil {
		return false, err
	}
	switch member.Status {
	case "member", "administrator", "creator":
		return true, nil
	}
	return false, nil
}

// RetryAfter はレート制限エラーから待機時間を取り出します。
func RetryAfter(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second, true
	}
	return 0, false
}

func markupFromRows(rows [][]keyboard.Button) tgbotapi.InlineKeyboardMarkup {
	converted := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.CallbackData))
		}
		converted = append(converted, buttons)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: converted}
}
