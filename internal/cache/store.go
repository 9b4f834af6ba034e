// Package cache はアーティファクトIDとキーボードレイアウトの
// 永続キャッシュをRedisに保存します。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/payload-relay/internal/keyboard"
)

const (
	artifactKeyPrefix = "artifact:"
	layoutKeyPrefix   = "layout:"
)

// Store は2つのキー値テーブルを提供します。
// どちらも一度書いたら不変として扱い、TTLは設定しません。
type Store struct {
	rdb *redis.Client
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// GetArtifact はキャッシュ済みの外部ファイルIDを返します。
// 未登録の場合は空文字列を返します。
func (s *Store) GetArtifact(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("artifact name is required")
	}
	val, err := s.rdb.Get(ctx, artifactKeyPrefix+normalizeKey(name)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return val, nil
}

// PutArtifact は外部ファイルIDを保存します。
func (s *Store) PutArtifact(ctx context.Context, name, fileID string) error {
	if name == "" {
		return fmt.Errorf("artifact name is required")
	}
	if fileID == "" {
		return fmt.Errorf("fileID is required")
	}
	return s.rdb.Set(ctx, artifactKeyPrefix+normalizeKey(name), fileID, 0).Err()
}

// GetLayout はキャッシュ済みレイアウト全体を返します。
// 未登録の場合は nil を返します。
func (s *Store) GetLayout(ctx context.Context, key string) (*keyboard.Layout, error) {
	if key == "" {
		return nil, fmt.Errorf("layout key is required")
	}
	data, err := s.rdb.Get(ctx, layoutKeyPrefix+normalizeKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var layout keyboard.Layout
	if err := json.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("failed to parse cached layout: %w", err)
	}
	return &layout, nil
}

// GetLayoutPage は指定ページを返します。レイアウト未登録またはページが
// 範囲外の場合は nil を返します（エラーにはしません）。
func (s *Store) GetLayoutPage(ctx context.Context, key string, page int) (*keyboard.Page, error) {
	layout, err := s.GetLayout(ctx, key)
	if err != nil || layout == nil {
		return nil, err
	}
	return layout.Page(page), nil
}

// PutLayout はレイアウト全体を保存します。
func (s *Store) PutLayout(ctx context.Context, key string, layout *keyboard.Layout) error {
	if key == "" {
		return fmt.Errorf("layout key is required")
	}
	if layout == nil {
		return fmt.Errorf("layout is nil")
	}
	payload, err := json.Marshal(layout)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, layoutKeyPrefix+normalizeKey(key), payload, 0).Err()
}

// normalizeKey はキーの拡張子を統一します。導出元によって .zip の
// 有無が揺れるため、保存時と参照時の両方で揃えます。
func normalizeKey(key string) string {
	if strings.HasSuffix(key, ".zip") {
		return key
	}
	return key + ".zip"
}
