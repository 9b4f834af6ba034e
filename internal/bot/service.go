// Package bot はWebhook更新の受理からジョブの完了通知までの
// オーケストレーションを担います。
package bot

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/yourusername/payload-relay/internal/config"
	"github.com/yourusername/payload-relay/internal/dumper"
	"github.com/yourusername/payload-relay/internal/keyboard"
	"github.com/yourusername/payload-relay/internal/queue"
	"github.com/yourusername/payload-relay/internal/session"
	"github.com/yourusername/payload-relay/internal/telegram"
)

// 購読チェックの結果を保持する時間。
const subscriptionCacheTTL = 60 * time.Second

// JobRunner は抽出ジョブを実行できるコンポーネントが実装します。
type JobRunner interface {
	Run(ctx context.Context, command dumper.Command, args []string, deadline time.Duration) <-chan dumper.Event
}

// Cache は配送済みファイルIDとレイアウトの永続キャッシュです。
// 本番では cache.Store が実装します。
type Cache interface {
	GetArtifact(ctx context.Context, name string) (string, error)
	PutArtifact(ctx context.Context, name, fileID string) error
	GetLayout(ctx context.Context, key string) (*keyboard.Layout, error)
	GetLayoutPage(ctx context.Context, key string, page int) (*keyboard.Page, error)
	PutLayout(ctx context.Context, key string, layout *keyboard.Layout) error
}

// Service はボットの中核です。セッション・キュー・キャッシュ・
// ワーカーをひとつの流れに束ねます。
type Service struct {
	cfg        *config.Config
	chat       telegram.API
	store      Cache
	sessions   *session.Registry
	gate       *queue.Queue
	runner     JobRunner
	httpClient *http.Client
	logger     *log.Logger

	subMu    sync.Mutex
	subCache map[int64]time.Time
}

// NewService は Service を初期化します。
func NewService(cfg *config.Config, chat telegram.API, store Cache, gate *queue.Queue, runner JobRunner, logger *log.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if chat == nil {
		return nil, errors.New("chat client is nil")
	}
	if store == nil {
		return nil, errors.New("cache store is nil")
	}
	if gate == nil {
		return nil, errors.New("admission queue is nil")
	}
	if runner == nil {
		return nil, errors.New("job runner is nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		cfg:        cfg,
		chat:       chat,
		store:      store,
		sessions:   session.NewRegistry(),
		gate:       gate,
		runner:     runner,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		subCache:   make(map[int64]time.Time),
	}, nil
}

// Sessions はセッションレジストリを返します（/stats用）。
func (s *Service) Sessions() *session.Registry {
	return s.sessions
}

// HandleUpdate はWebhookで受け取った1更新を処理します。
// 私聊とグループ以外からの更新は無視します。
func (s *Service) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		if update.Message.NewChatMembers != nil {
			return
		}
		if !allowedChatType(update.Message.Chat.Type) {
			s.logger.Printf("ignored update from chat type: %s", update.Message.Chat.Type)
			return
		}
		s.handleMessage(ctx, update.Message)

	case update.CallbackQuery != nil:
		if update.CallbackQuery.Message == nil || !allowedChatType(update.CallbackQuery.Message.Chat.Type) {
			return
		}
		s.handleCallback(ctx, update.CallbackQuery)

	case update.MyChatMember != nil:
		s.logger.Printf("received my_chat_member update for chat %d", update.MyChatMember.Chat.ID)
	}
}

func allowedChatType(chatType string) bool {
	switch chatType {
	case "private", "group", "supergroup":
		return true
	}
	return false
}

func (s *Service) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Text == "" {
		s.logger.Printf("received message without text from user %d", msg.From.ID)
		return
	}

	switch msg.Text {
	case "/start", "/help":
		s.handleHelp(msg)
		return
	}
	s.handleURL(ctx, msg)
}

func (s *Service) handleHelp(msg *tgbotapi.Message) {
	userID := msg.From.ID
	if !s.checkSubscription(userID) {
		s.send(msg.Chat.ID, msgSubscribeRequired(s.cfg.ChannelUsername), nil)
		return
	}
	s.send(msg.Chat.ID, msgHelp, nil)
}

// checkSubscription はチャンネル購読を確認します。肯定結果は短時間
// キャッシュしてAPI呼び出しを抑えます。チャンネル未設定時は素通しです。
func (s *Service) checkSubscription(userID int64) bool {
	if s.cfg.ChannelUsername == "" {
		return true
	}

	s.subMu.Lock()
	expiry, ok := s.subCache[userID]
	s.subMu.Unlock()
	if ok && time.Now().Before(expiry) {
		return true
	}

	member, err := s.chat.IsChannelMember(s.cfg.ChannelUsername, userID)
	if err != nil {
		s.logger.Printf("failed to check subscription for user %d: %v", userID, err)
		return false
	}
	if member {
		s.subMu.Lock()
		s.subCache[userID] = time.Now().Add(subscriptionCacheTTL)
		s.subMu.Unlock()
	}
	return member
}

func (s *Service) send(chatID int64, text string, rows [][]keyboard.Button) telegram.MessageRef {
	ref, err := s.chat.SendMessage(chatID, text, rows)
	if err != nil {
		s.logger.Printf("failed to send message to chat %d: %v", chatID, err)
	}
	return ref
}

func (s *Service) edit(ref telegram.MessageRef, text string, rows [][]keyboard.Button) {
	if err := s.chat.EditMessage(ref, text, rows); err != nil {
		s.logger.Printf("failed to edit message %d in chat %d: %v", ref.MessageID, ref.ChatID, err)
	}
}
