package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yourusername/payload-relay/internal/dumper"
	"github.com/yourusername/payload-relay/internal/keyboard"
	"github.com/yourusername/payload-relay/internal/session"
	"github.com/yourusername/payload-relay/internal/telegram"
)

// jobRequest はワーカー起動に必要な入力の集合です。
// status が空の場合は新しいステータスメッセージを送信します。
// key は要求受理時点のキャッシュキーで、ジョブ実行中にセッションが
// 別のURLへ進んでも成果物が元のキーに結び付くよう固定して持ち回ります。
type jobRequest struct {
	userID    int64
	chatID    int64
	command   dumper.Command
	url       string
	key       string
	partition string
	status    telegram.MessageRef
}

// artifact はワーカーが報告した成果物の所在です。
type artifact struct {
	path string
	name string
}

// startJob は要求を単一スロットの実行キューに積み、順番が来たら
// ワーカーを起動して出力ストリームを消費します。
func (s *Service) startJob(ctx context.Context, req jobRequest) {
	status := req.status
	if status.MessageID == 0 {
		ref, err := s.chat.SendMessage(req.chatID, msgParsing, nil)
		if err != nil {
			s.logger.Printf("failed to send status message: %v", err)
			return
		}
		status = ref
	}

	ticket := s.gate.Enqueue()
	defer s.gate.Dequeue(ticket)

	turn := make(chan error, 1)
	go func() { turn <- s.gate.WaitTurn(ctx, ticket) }()

wait:
	for {
		select {
		case err := <-turn:
			if err != nil {
				s.logger.Printf("queue wait aborted for user %d: %v", req.userID, err)
				return
			}
			break wait
		case pos, ok := <-ticket.Position():
			if ok && pos > 0 {
				s.edit(status, msgQueuePosition(pos), nil)
			}
		}
	}

	deadline := time.Duration(s.cfg.ListTimeoutSeconds) * time.Second
	args := []string{req.url}
	if req.command == dumper.CommandDump {
		deadline = time.Duration(s.cfg.DumpTimeoutSeconds) * time.Second
		args = []string{req.partition, req.url}
	}

	s.logger.Printf("job started: command=%s user=%d", req.command, req.userID)
	events := s.runner.Run(ctx, req.command, args, deadline)

	sess := s.sessions.Snapshot(req.userID)
	display := displayMessage(sess.URL, sess.PartitionName, sess.FileName)

	var found *artifact
	for ev := range events {
		switch ev.Kind {
		case dumper.EventStatus:
			s.edit(status, display+"\n"+ev.Text, nil)

		case dumper.EventError:
			text := ev.Text
			if text == "execution failed" {
				text = msgExecFailed
			}
			s.edit(status, display+"\n"+text, keyboard.ReturnRows())
			return

		case dumper.EventTimeout:
			s.logger.Printf("job timed out: command=%s user=%d", req.command, req.userID)
			s.edit(status, display+"\n"+msgTimeout, keyboard.ReturnRows())
			return

		case dumper.EventArtifact:
			found = &artifact{path: ev.Path, name: ev.Name}
			if req.command == dumper.CommandDump {
				_ = s.sessions.WithLock(req.userID, func(sess *session.Session) error {
					sess.FileName = ev.Name
					return nil
				})
			}
		}
	}

	if found == nil {
		s.logger.Printf("job produced no artifact: command=%s user=%d", req.command, req.userID)
		s.edit(status, display+"\n"+msgExecFailed, keyboard.ReturnRows())
		return
	}

	switch req.command {
	case dumper.CommandList:
		s.finishList(ctx, req, status, found)
	case dumper.CommandMetadata:
		s.finishMetadata(req, status, found)
	case dumper.CommandDump:
		s.finishDump(ctx, req, status, found)
	}
}

// finishList はパーティション一覧ファイルを読み込み、
// ページ分割レイアウトを構築してキャッシュに保存します。
func (s *Service) finishList(ctx context.Context, req jobRequest, status telegram.MessageRef, found *artifact) {
	data, err := os.ReadFile(found.path)
	if err != nil {
		s.logger.Printf("failed to read partition list %s: %v", found.path, err)
		s.edit(status, msgExecFailed, keyboard.ReturnRows())
		return
	}

	var partitions []keyboard.PartitionInfo
	if err := json.Unmarshal(data, &partitions); err != nil {
		s.logger.Printf("failed to parse partition list %s: %v", found.path, err)
		s.edit(status, msgExecFailed, keyboard.ReturnRows())
		return
	}

	sess := s.sessions.Snapshot(req.userID)
	s.edit(status, displayMessage(sess.URL, "", sess.FileName)+"\n"+msgLoadingPartitions, nil)

	layout := keyboard.BuildLayout(partitions)
	if err := s.store.PutLayout(ctx, req.key, layout); err != nil {
		s.logger.Printf("failed to cache layout for %s: %v", req.key, err)
	}

	_ = s.sessions.WithLock(req.userID, func(sess *session.Session) error {
		sess.Partitions = partitions
		sess.CurrentPage = 1
		return nil
	})

	if page := layout.Page(1); page != nil {
		s.edit(status, displayMessage(sess.URL, "", sess.FileName), page.Rows)
	}
}

// finishMetadata はメタデータファイルの内容をそのまま表示します。
func (s *Service) finishMetadata(req jobRequest, status telegram.MessageRef, found *artifact) {
	data, err := os.ReadFile(found.path)
	if err != nil {
		s.logger.Printf("failed to read metadata %s: %v", found.path, err)
		s.edit(status, msgExecFailed, keyboard.ReturnRows())
		return
	}

	sess := s.sessions.Snapshot(req.userID)
	s.edit(status, displayMessage(sess.URL, "", sess.FileName)+"\n"+msgMetadata(string(data)), keyboard.ReturnRows())
}

// finishDump は成果物を検証し、キャッシュ済みの file_id 再送または
// 再試行付きアップロードで配送します。
func (s *Service) finishDump(ctx context.Context, req jobRequest, status telegram.MessageRef, found *artifact) {
	sess := s.sessions.Snapshot(req.userID)
	display := displayMessage(sess.URL, sess.PartitionName, sess.FileName)

	info, err := os.Stat(found.path)
	if err != nil || info.Size() == 0 {
		s.logger.Printf("artifact missing or empty: %s", found.path)
		s.edit(status, display+"\n"+msgEmptyFile, keyboard.ReturnRows())
		return
	}
	if kind, err := mimetype.DetectFile(found.path); err != nil || !kind.Is("application/zip") {
		s.logger.Printf("artifact %s is not a zip archive", found.path)
		s.edit(status, display+"\n"+msgEmptyFile, keyboard.ReturnRows())
		return
	}

	cacheKey := fmt.Sprintf("%s:%s", req.key, req.partition)
	fileID, err := s.store.GetArtifact(ctx, cacheKey)
	if err != nil {
		s.logger.Printf("failed to read artifact cache for %s: %v", cacheKey, err)
	}
	if fileID != "" {
		if err := s.chat.SendDocumentByID(req.chatID, fileID); err == nil {
			s.edit(status, display+"\n"+msgFileSent, keyboard.ReturnRows())
			return
		}
		s.logger.Printf("cached file_id for %s rejected, falling back to upload", cacheKey)
	}

	s.edit(status, display+"\n"+msgUploading, nil)
	sent, err := s.deliver(ctx, status, display, func() (string, error) {
		return s.chat.SendDocumentFile(req.chatID, found.path)
	})
	if err != nil {
		return
	}

	if err := s.store.PutArtifact(ctx, cacheKey, sent); err != nil {
		s.logger.Printf("failed to cache artifact %s: %v", cacheKey, err)
	}
	s.edit(status, display+"\n"+msgUploadSuccess, keyboard.ReturnRows())
}
