package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/yourusername/payload-relay/internal/dumper"
	"github.com/yourusername/payload-relay/internal/keyboard"
	"github.com/yourusername/payload-relay/internal/romurl"
	"github.com/yourusername/payload-relay/internal/session"
	"github.com/yourusername/payload-relay/internal/telegram"
)

// handleURL は新しいトップレベル要求を受理します。
// 派生状態のリセットはURLの受理と同じロック区間で行います。
func (s *Service) handleURL(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if !s.checkSubscription(userID) {
		s.send(chatID, msgSubscribeRequired(s.cfg.ChannelUsername), nil)
		return
	}

	var url string
	if strings.HasPrefix(text, "/") {
		if !strings.HasPrefix(text, "/dump") {
			s.logger.Printf("unknown command received: %s", text)
			s.send(chatID, msgUnknownCommand, nil)
			return
		}
		parts := strings.Fields(text)
		if len(parts) != 2 {
			s.send(chatID, msgUsageDump, nil)
			return
		}
		url = parts[1]
	} else {
		url = text
	}

	if !romurl.IsValid(url) {
		s.logger.Printf("invalid URL from user %d: %s", userID, url)
		s.send(chatID, msgInvalidURL, nil)
		return
	}

	if rewritten, ok := romurl.RewriteCDN(url); ok {
		url = rewritten
		s.send(chatID, msgCDNRewritten(url), nil)
	}

	romKey := romurl.ProbeKey(ctx, s.httpClient, url)
	fileName := baseName(url)

	_ = s.sessions.WithLock(userID, func(sess *session.Session) error {
		sess.ResetDerived()
		sess.URL = url
		sess.ROMKey = romKey
		sess.FileName = fileName
		return nil
	})

	// レイアウトキャッシュに当たれば一覧ジョブは不要
	layout, err := s.store.GetLayout(ctx, romKey)
	if err != nil {
		s.logger.Printf("failed to read layout cache for %s: %v", romKey, err)
	}
	if layout != nil {
		if page := layout.Page(1); page != nil {
			s.logger.Printf("layout cache hit for %s", romKey)
			_ = s.sessions.WithLock(userID, func(sess *session.Session) error {
				sess.CurrentPage = 1
				return nil
			})
			s.send(chatID, displayMessage(url, "", fileName), page.Rows)
			return
		}
	}

	s.startJob(ctx, jobRequest{
		userID:  userID,
		chatID:  chatID,
		command: dumper.CommandList,
		url:     url,
		key:     romKey,
	})
}

// handleCallback はインラインキーボードの押下を処理します。
func (s *Service) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if err := s.chat.AnswerCallback(cb.ID); err != nil {
		s.logger.Printf("failed to answer callback %s: %v", cb.ID, err)
	}

	userID := cb.From.ID
	chatID := cb.Message.Chat.ID
	ref := telegram.MessageRef{ChatID: chatID, MessageID: cb.Message.MessageID}
	sess := s.sessions.Snapshot(userID)

	data := cb.Data
	switch {
	case data == keyboard.CallbackNoop:
		return

	case data == keyboard.CallbackReturn:
		s.handleReturn(ctx, userID, chatID, ref, sess)

	case strings.HasPrefix(data, "page "):
		requested, err := strconv.Atoi(strings.TrimPrefix(data, "page "))
		if err != nil {
			s.logger.Printf("malformed page callback: %q", data)
			return
		}
		s.handlePageFlip(ctx, userID, chatID, ref, sess, requested)

	case data == keyboard.CallbackMetadata:
		if sess.URL == "" {
			s.send(chatID, msgNoURL, nil)
			return
		}
		s.edit(ref, displayMessage(sess.URL, sess.PartitionName, sess.FileName)+"\n"+msgFetchingMetadata, nil)
		s.startJob(ctx, jobRequest{
			userID:  userID,
			chatID:  chatID,
			command: dumper.CommandMetadata,
			url:     sess.URL,
			key:     sess.ROMKey,
			status:  ref,
		})

	default:
		s.handlePartition(ctx, userID, chatID, ref, sess, data)
	}
}

func (s *Service) handleReturn(ctx context.Context, userID, chatID int64, ref telegram.MessageRef, sess session.Session) {
	if sess.URL == "" {
		s.logger.Printf("no URL found for user %d on return", userID)
		s.send(chatID, msgNoURL, nil)
		return
	}

	page, err := s.store.GetLayoutPage(ctx, sess.ROMKey, 1)
	if err != nil {
		s.logger.Printf("failed to read layout cache for %s: %v", sess.ROMKey, err)
	}
	if page == nil {
		// レイアウトが失われているので一覧を取り直す
		s.startJob(ctx, jobRequest{
			userID:  userID,
			chatID:  chatID,
			command: dumper.CommandList,
			url:     sess.URL,
			key:     sess.ROMKey,
			status:  ref,
		})
		return
	}

	_ = s.sessions.WithLock(userID, func(sess *session.Session) error {
		sess.CurrentPage = 1
		return nil
	})
	s.edit(ref, displayMessage(sess.URL, "", sess.FileName), page.Rows)
}

func (s *Service) handlePageFlip(ctx context.Context, userID, chatID int64, ref telegram.MessageRef, sess session.Session, requested int) {
	page, err := s.store.GetLayoutPage(ctx, sess.ROMKey, requested)
	if err != nil {
		s.logger.Printf("failed to read layout cache for %s: %v", sess.ROMKey, err)
	}
	if page == nil {
		s.logger.Printf("invalid page %d requested for %s", requested, sess.ROMKey)
		s.send(chatID, msgInvalidPage, nil)
		return
	}

	s.edit(ref, displayMessage(sess.URL, sess.PartitionName, sess.FileName), page.Rows)
	_ = s.sessions.WithLock(userID, func(sess *session.Session) error {
		sess.CurrentPage = requested
		return nil
	})
}

func (s *Service) handlePartition(ctx context.Context, userID, chatID int64, ref telegram.MessageRef, sess session.Session, partition string) {
	if sess.URL == "" {
		s.send(chatID, msgNoURL, nil)
		return
	}
	if !romurl.IsValidPartition(partition) {
		s.logger.Printf("malformed partition callback: %q", partition)
		return
	}
	if romurl.IsBlacklistedPartition(partition) {
		s.logger.Printf("partition %q is not supported", partition)
		s.edit(ref,
			displayMessage(sess.URL, sess.PartitionName, sess.FileName)+"\n"+msgBlacklistedPartition(partition),
			keyboard.ReturnRows(),
		)
		return
	}

	_ = s.sessions.WithLock(userID, func(sess *session.Session) error {
		sess.PartitionName = partition
		return nil
	})
	s.edit(ref, displayMessage(sess.URL, partition, sess.FileName)+"\n"+msgDumpingPartition(partition), nil)
	s.startJob(ctx, jobRequest{
		userID:    userID,
		chatID:    chatID,
		command:   dumper.CommandDump,
		url:       sess.URL,
		key:       sess.ROMKey,
		partition: partition,
		status:    ref,
	})
}

func baseName(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
