package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/payload-relay/internal/keyboard"
	"github.com/yourusername/payload-relay/internal/telegram"
)

// errRetriesExhausted は全試行が失敗したことを示します。
var errRetriesExhausted = errors.New("upload retries exhausted")

// deliver は action を最大 MaxUploadRetries 回実行します。
// 失敗時の待機時間は、相手側が明示したフラッド制御の待機指示を
// 優先し、指示がなければ固定間隔に従います。
func (s *Service) deliver(ctx context.Context, status telegram.MessageRef, display string, action func() (string, error)) (string, error) {
	max := s.cfg.MaxUploadRetries
	interval := time.Duration(s.cfg.RetryIntervalSeconds) * time.Second

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		result, err := action()
		if err == nil {
			return result, nil
		}
		lastErr = err
		s.logger.Printf("upload attempt %d/%d failed: %v", attempt, max, err)

		if attempt == max {
			break
		}

		wait := interval
		if after, ok := telegram.RetryAfter(err); ok {
			wait = after
		}

		s.edit(status, display+"\n"+msgUploadAttempt(attempt), nil)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.edit(status, display+"\n"+msgUploadExhausted(max), keyboard.ReturnRows())
	return "", fmt.Errorf("%w after %d attempts: %v", errRetriesExhausted, max, lastErr)
}
