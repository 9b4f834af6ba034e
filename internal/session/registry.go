// Package session はユーザーごとの対話状態と、その直列化のための
// ユーザー単位ロックを提供します。
package session

import (
	"sync"

	"github.com/yourusername/payload-relay/internal/keyboard"
)

// Session は1ユーザー分の対話状態です。
// 派生フィールド（FileName, PartitionName, Partitions）は新しいURLを
// 受理した時点で必ずまとめてクリアされます。
type Session struct {
	URL           string                   // 受理した要求URL
	ROMKey        string                   // URLから導出したキャッシュキー
	FileName      string                   // 現在の成果物名
	PartitionName string                   // 選択中の分区（任意）
	Partitions    []keyboard.PartitionInfo // 一覧ジョブの結果
	CurrentPage   int                      // 1-basedの表示中ページ
}

// ResetDerived は派生フィールドをまとめてクリアします。
// 新しいURLの受理と同じクリティカルセクション内で呼ぶこと。
func (s *Session) ResetDerived() {
	s.FileName = ""
	s.PartitionName = ""
	s.Partitions = nil
	s.CurrentPage = 0
}

type slot struct {
	mu      sync.Mutex
	session Session
}

// Registry はユーザーIDをキーにセッションとロックを保持します。
// スロットは初回アクセス時に作られ、プロセスが生きている限り残ります
// （観測したユーザー数が上限になります）。
type Registry struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

// NewRegistry は Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{slots: make(map[int64]*slot)}
}

// WithLock は該当ユーザーのセッションへ排他アクセスした状態で fn を実行します。
// 同一ユーザーの操作は一切交錯しません。異なるユーザー同士は互いに
// ブロックしません。
func (r *Registry) WithLock(userID int64, fn func(s *Session) error) error {
	sl := r.slotFor(userID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return fn(&sl.session)
}

// Snapshot はセッションのコピーを返します。表示用途など、ロックを
// 保持し続けたくない読み取りに使います。
func (r *Registry) Snapshot(userID int64) Session {
	sl := r.slotFor(userID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.session
}

// Size は観測済みユーザー数を返します。
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// slotFor はスロットを返します。作成はレジストリのロック下で行うので
// 同一ユーザーに対して二重に作られることはありません。
func (r *Registry) slotFor(userID int64) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	sl, ok := r.slots[userID]
	if !ok {
		sl = &slot{}
		r.slots[userID] = sl
	}
	return sl
}
