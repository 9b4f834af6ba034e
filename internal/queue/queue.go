// Package queue は重量ジョブを同時に1件だけ実行させるための
// プロセス内FIFOゲートを提供します。待機はチャネル通知で行い、
// ポーリングによるビジーウェイトはしません。
package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ticket はキューへの参加1件を表すチケットです。
type Ticket struct {
	ID string

	ready     chan struct{} // 先頭に到達した時点でクローズされる
	pos       chan int      // 最新の待ち人数（前方のチケット数）
	enqueued  time.Time
	headSince time.Time
}

// Position は前方のチケット数の更新を受け取るチャネルを返します。
// 常に最新値のみが保持されます。
func (t *Ticket) Position() <-chan int {
	return t.pos
}

// Queue は全プロセスで共有する単一の入場キューです。
// 順序リストへの読み書きはすべて1本のミューテックスの下で行い、
// ロックを保持したまま待機することはありません。
type Queue struct {
	mu      sync.Mutex
	entries []*Ticket

	maxHold time.Duration
	logger  *log.Logger
	stop    chan struct{}
	once    sync.Once
}

// New はキューを作成します。maxHold と sweep が正の場合、先頭チケットが
// 保持されたまま放置されるのを監視する回収ループを起動します。
// 先頭の所有者が Dequeue を呼ばずに死ぬと後続全員が詰まるため、
// この回収が唯一の復旧経路になります。
func New(maxHold, sweep time.Duration, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.Default()
	}
	q := &Queue{
		maxHold: maxHold,
		logger:  logger,
		stop:    make(chan struct{}),
	}
	if maxHold > 0 && sweep > 0 {
		go q.sweepLoop(sweep)
	}
	return q
}

// Enqueue はチケットを発行して末尾に追加し、現在の待ち人数を通知します。
// 追加順がそのままサービス順になります。
func (q *Queue) Enqueue() *Ticket {
	t := &Ticket{
		ID:       uuid.NewString(),
		ready:    make(chan struct{}),
		pos:      make(chan int, 1),
		enqueued: time.Now(),
	}

	q.mu.Lock()
	q.entries = append(q.entries, t)
	q.notifyLocked()
	q.mu.Unlock()

	return t
}

// WaitTurn はチケットが先頭に到達するまで呼び出し側を待機させます。
// コンテキストが先に取り消された場合はそのエラーを返します。
// どちらの場合も呼び出し側が Dequeue でチケットを外す責任を持ちます。
func (q *Queue) WaitTurn(ctx context.Context, t *Ticket) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue はチケットを任意の位置から取り除きます。正常完了と
// 異常終了後の後始末の両方から呼ばれます。見つからない場合は
// 内部不整合としてログに残すだけで、他の待機者には影響しません。
func (q *Queue) Dequeue(t *Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e == t {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.notifyLocked()
			return
		}
	}
	q.logger.Printf("queue: ticket %s not found on dequeue", t.ID)
}

// Len は現在の待機数（実行中を含む）を返します。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// TicketInfo は運用統計向けのチケット要約です。
type TicketInfo struct {
	ID        string    `json:"id"`
	Enqueued  time.Time `json:"enqueued"`
	HeadSince time.Time `json:"head_since,omitzero"`
}

// Snapshot はキューの現在の並びをサービス順で返します。
// 先頭要素のみ HeadSince が設定されます。
func (q *Queue) Snapshot() []TicketInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	infos := make([]TicketInfo, 0, len(q.entries))
	for _, e := range q.entries {
		infos = append(infos, TicketInfo{
			ID:        e.ID,
			Enqueued:  e.enqueued,
			HeadSince: e.headSince,
		})
	}
	return infos
}

// Close は回収ループを停止します。
func (q *Queue) Close() {
	q.once.Do(func() { close(q.stop) })
}

// notifyLocked は先頭の入場許可と各待機者への位置通知を行います。
// q.mu を保持して呼ぶこと。
func (q *Queue) notifyLocked() {
	for i, e := range q.entries {
		if i == 0 && e.headSince.IsZero() {
			e.headSince = time.Now()
			close(e.ready)
		}
		// 古い位置情報は捨てて最新値だけを残す
		select {
		case <-e.pos:
		default:
		}
		select {
		case e.pos <- i:
		default:
		}
	}
}

func (q *Queue) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.reapStaleHead()
		}
	}
}

// reapStaleHead は保持時間を超えた先頭チケットを強制的に外します。
// 所有者が後から Dequeue を呼んでも、単にログに残るだけで無害です。
func (q *Queue) reapStaleHead() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return
	}
	head := q.entries[0]
	if head.headSince.IsZero() || time.Since(head.headSince) <= q.maxHold {
		return
	}
	q.logger.Printf("queue: head ticket %s held for %s, force-removing", head.ID, time.Since(head.headSince))
	q.entries = q.entries[1:]
	q.notifyLocked()
}
