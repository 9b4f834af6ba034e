package bot

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/yourusername/payload-relay/internal/config"
	"github.com/yourusername/payload-relay/internal/dumper"
	"github.com/yourusername/payload-relay/internal/keyboard"
	"github.com/yourusername/payload-relay/internal/queue"
	"github.com/yourusername/payload-relay/internal/session"
	"github.com/yourusername/payload-relay/internal/telegram"
)

// fakeChat は送受信を記録するだけの telegram.API 実装です。
type fakeChat struct {
	mu    sync.Mutex
	sent  []string
	edits []string

	sendDocErr  error
	sentFileIDs []string
	member      bool
}

func (f *fakeChat) SendMessage(chatID int64, text string, rows [][]keyboard.Button) (telegram.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return telegram.MessageRef{ChatID: chatID, MessageID: len(f.sent)}, nil
}

func (f *fakeChat) EditMessage(ref telegram.MessageRef, text string, rows [][]keyboard.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeChat) SendDocumentFile(chatID int64, path string) (string, error) {
	if f.sendDocErr != nil {
		return "", f.sendDocErr
	}
	return "uploaded-file-id", nil
}

func (f *fakeChat) SendDocumentByID(chatID int64, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentFileIDs = append(f.sentFileIDs, fileID)
	return nil
}

func (f *fakeChat) AnswerCallback(callbackID string) error { return nil }

func (f *fakeChat) IsChannelMember(channel string, userID int64) (bool, error) {
	return f.member, nil
}

func (f *fakeChat) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

func (f *fakeChat) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

// fakeStore はメモリ上の Cache 実装です。書き込まれたキーをそのまま
// 保持するので、どのキーでキャッシュされたかを検査できます。
type fakeStore struct {
	mu        sync.Mutex
	artifacts map[string]string
	layouts   map[string]*keyboard.Layout
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		artifacts: make(map[string]string),
		layouts:   make(map[string]*keyboard.Layout),
	}
}

func (f *fakeStore) GetArtifact(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.artifacts[name], nil
}

func (f *fakeStore) PutArtifact(ctx context.Context, name, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[name] = fileID
	return nil
}

func (f *fakeStore) GetLayout(ctx context.Context, key string) (*keyboard.Layout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.layouts[key], nil
}

func (f *fakeStore) GetLayoutPage(ctx context.Context, key string, page int) (*keyboard.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.layouts[key].Page(page), nil
}

func (f *fakeStore) PutLayout(ctx context.Context, key string, layout *keyboard.Layout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.layouts[key] = layout
	return nil
}

func (f *fakeStore) layout(key string) *keyboard.Layout {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.layouts[key]
}

// fakeRunner は台本どおりのイベント列を流す JobRunner 実装です。
type fakeRunner struct {
	events []dumper.Event
}

func (f *fakeRunner) Run(ctx context.Context, command dumper.Command, args []string, deadline time.Duration) <-chan dumper.Event {
	out := make(chan dumper.Event)
	go func() {
		defer close(out)
		for _, ev := range f.events {
			out <- ev
		}
	}()
	return out
}

func newTestService(t *testing.T, chat telegram.API, runner JobRunner) *Service {
	t.Helper()
	cfg := &config.Config{
		Port:                 "6400",
		ListTimeoutSeconds:   15,
		DumpTimeoutSeconds:   60,
		MaxUploadRetries:     3,
		RetryIntervalSeconds: 0,
	}
	store := newFakeStore()
	gate := queue.New(0, 0, log.Default())
	t.Cleanup(gate.Close)

	s, err := NewService(cfg, chat, store, gate, runner, log.Default())
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return s
}

func privateMessage(userID, chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: chatID, Type: "private"},
		Text: text,
	}
}

func TestHandleURLRejectsInvalid(t *testing.T) {
	chat := &fakeChat{}
	s := newTestService(t, chat, &fakeRunner{})

	s.handleMessage(context.Background(), privateMessage(1, 1, "not a url"))
	if got := chat.lastSent(); got != msgInvalidURL {
		t.Fatalf("expected invalid-URL reply, got %q", got)
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	chat := &fakeChat{}
	s := newTestService(t, chat, &fakeRunner{})

	s.handleMessage(context.Background(), privateMessage(1, 1, "/frobnicate"))
	if got := chat.lastSent(); got != msgUnknownCommand {
		t.Fatalf("expected unknown-command reply, got %q", got)
	}
}

func TestHandleDumpUsage(t *testing.T) {
	chat := &fakeChat{}
	s := newTestService(t, chat, &fakeRunner{})

	s.handleMessage(context.Background(), privateMessage(1, 1, "/dump"))
	if got := chat.lastSent(); got != msgUsageDump {
		t.Fatalf("expected usage reply, got %q", got)
	}
}

func TestHandleUpdateIgnoresChannelPosts(t *testing.T) {
	chat := &fakeChat{}
	s := newTestService(t, chat, &fakeRunner{})

	s.HandleUpdate(context.Background(), tgbotapi.Update{
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 1},
			Chat: &tgbotapi.Chat{ID: 1, Type: "channel"},
			Text: "https://example.com/rom.zip",
		},
	})
	if got := chat.lastSent(); got != "" {
		t.Fatalf("channel post must be ignored, got reply %q", got)
	}
}

func TestHandleHelpRequiresSubscription(t *testing.T) {
	chat := &fakeChat{member: false}
	s := newTestService(t, chat, &fakeRunner{})
	s.cfg.ChannelUsername = "@somechannel"

	s.handleMessage(context.Background(), privateMessage(1, 1, "/help"))
	if got := chat.lastSent(); got != msgSubscribeRequired("@somechannel") {
		t.Fatalf("expected subscription prompt, got %q", got)
	}

	chat.member = true
	s.handleMessage(context.Background(), privateMessage(1, 1, "/help"))
	if got := chat.lastSent(); got != msgHelp {
		t.Fatalf("expected help text, got %q", got)
	}
}

func TestCallbackBlacklistedPartition(t *testing.T) {
	chat := &fakeChat{}
	s := newTestService(t, chat, &fakeRunner{})

	_ = s.Sessions().WithLock(1, func(sess *session.Session) error {
		sess.URL = "https://example.com/rom.zip"
		sess.ROMKey = "rom_abcd1234"
		return nil
	})

	s.handleCallback(context.Background(), &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: 1},
		Message: &tgbotapi.Message{
			MessageID: 10,
			Chat:      &tgbotapi.Chat{ID: 1, Type: "private"},
		},
		Data: "system",
	})

	last := chat.lastEdit()
	if !containsLine(last, msgBlacklistedPartition("system")) {
		t.Fatalf("expected blacklist notice, got %q", last)
	}
}

func TestCallbackPartitionWithoutSession(t *testing.T) {
	chat := &fakeChat{}
	s := newTestService(t, chat, &fakeRunner{})

	s.handleCallback(context.Background(), &tgbotapi.CallbackQuery{
		ID:   "cb2",
		From: &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{
			MessageID: 11,
			Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		},
		Data: "boot",
	})

	if got := chat.lastSent(); got != msgNoURL {
		t.Fatalf("expected no-URL reply, got %q", got)
	}
}

func containsLine(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}

func TestListJobCachesUnderOriginatingKey(t *testing.T) {
	chat := &fakeChat{}

	listPath := filepath.Join(t.TempDir(), "partitions.json")
	payload := `[{"partition_name":"boot","size_readable":"64 MB"}]`
	if err := os.WriteFile(listPath, []byte(payload), 0o644); err != nil {
		t.Fatalf("failed to write partition list: %v", err)
	}
	runner := &fakeRunner{events: []dumper.Event{
		{Kind: dumper.EventArtifact, Path: listPath, Name: "partitions.json"},
	}}
	s := newTestService(t, chat, runner)

	// 一覧ジョブの待機中にユーザーが別のURLへ進んだ状況
	_ = s.Sessions().WithLock(1, func(sess *session.Session) error {
		sess.URL = "https://example.com/b.zip"
		sess.ROMKey = "rom_bbbb1111"
		return nil
	})

	s.startJob(context.Background(), jobRequest{
		userID:  1,
		chatID:  1,
		command: dumper.CommandList,
		url:     "https://example.com/a.zip",
		key:     "rom_aaaa0000",
	})

	store := s.store.(*fakeStore)
	if store.layout("rom_aaaa0000") == nil {
		t.Fatalf("layout was not cached under the originating key")
	}
	if store.layout("rom_bbbb1111") != nil {
		t.Fatalf("layout leaked under the session's newer key")
	}
}

func TestDumpArtifactCachedUnderOriginatingKey(t *testing.T) {
	chat := &fakeChat{}

	zipPath := filepath.Join(t.TempDir(), "boot.zip")
	// 最小のZIPシグネチャ（空の末尾レコード）
	if err := os.WriteFile(zipPath, []byte("PK\x05\x06"+strings.Repeat("\x00", 18)), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	runner := &fakeRunner{events: []dumper.Event{
		{Kind: dumper.EventArtifact, Path: zipPath, Name: "boot"},
	}}
	s := newTestService(t, chat, runner)

	_ = s.Sessions().WithLock(1, func(sess *session.Session) error {
		sess.URL = "https://example.com/b.zip"
		sess.ROMKey = "rom_bbbb1111"
		return nil
	})

	s.startJob(context.Background(), jobRequest{
		userID:    1,
		chatID:    1,
		command:   dumper.CommandDump,
		url:       "https://example.com/a.zip",
		key:       "rom_aaaa0000",
		partition: "boot",
	})

	store := s.store.(*fakeStore)
	if got, _ := store.GetArtifact(context.Background(), "rom_aaaa0000:boot"); got != "uploaded-file-id" {
		t.Fatalf("artifact not cached under the originating key, got %q", got)
	}
	if !containsLine(chat.lastEdit(), msgUploadSuccess) {
		t.Fatalf("expected upload success notice, got %q", chat.lastEdit())
	}
}

func TestStartJobErrorBlock(t *testing.T) {
	chat := &fakeChat{}
	runner := &fakeRunner{events: []dumper.Event{
		{Kind: dumper.EventStatus, Text: "downloading"},
		{Kind: dumper.EventError, Text: "payload corrupt"},
	}}
	s := newTestService(t, chat, runner)

	s.startJob(context.Background(), jobRequest{
		userID:  1,
		chatID:  1,
		command: dumper.CommandList,
		url:     "https://example.com/rom.zip",
	})

	last := chat.lastEdit()
	if last == "" || !containsLine(last, "payload corrupt") {
		t.Fatalf("expected error text in final edit, got %q", last)
	}
}

func TestStartJobTimeout(t *testing.T) {
	chat := &fakeChat{}
	runner := &fakeRunner{events: []dumper.Event{{Kind: dumper.EventTimeout}}}
	s := newTestService(t, chat, runner)

	s.startJob(context.Background(), jobRequest{
		userID:  1,
		chatID:  1,
		command: dumper.CommandDump,
		url:     "https://example.com/rom.zip",
	})

	if last := chat.lastEdit(); !containsLine(last, msgTimeout) {
		t.Fatalf("expected timeout notice, got %q", last)
	}
}

func TestStartJobNoArtifact(t *testing.T) {
	chat := &fakeChat{}
	runner := &fakeRunner{events: []dumper.Event{
		{Kind: dumper.EventStatus, Text: "working"},
	}}
	s := newTestService(t, chat, runner)

	s.startJob(context.Background(), jobRequest{
		userID:  1,
		chatID:  1,
		command: dumper.CommandDump,
		url:     "https://example.com/rom.zip",
	})

	if last := chat.lastEdit(); !containsLine(last, msgExecFailed) {
		t.Fatalf("expected failure notice, got %q", last)
	}
}
