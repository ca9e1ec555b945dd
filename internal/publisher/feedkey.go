package publisher

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/hitoshi/merchantfeed/internal/repository"
)

// feedKeyBytes はフィードキーの乱数長。hex表現で64文字になる。
const feedKeyBytes = 32

// KeyManager は配信URLに埋め込むフィードキーの発行と検証を行う。
// キーは初回起動（またはマイグレーション）時に1回発行され、
// ローテーションされるまで変わらない。
type KeyManager struct {
	settings repository.SettingsRepository
}

// NewKeyManager はKeyManagerを生成する。
func NewKeyManager(settings repository.SettingsRepository) *KeyManager {
	return &KeyManager{settings: settings}
}

// generateKey は暗号学的乱数から新しいフィードキーを生成する。
func generateKey() (string, error) {
	buf := make([]byte, feedKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("フィードキーの生成に失敗しました: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Ensure はフィードキーが未発行の場合に発行して保存し、現在のキーを返す。
func (m *KeyManager) Ensure(ctx context.Context) (string, error) {
	key, err := m.settings.GetValue(ctx, repository.SettingFeedKey)
	if err != nil {
		return "", err
	}
	if key != "" {
		return key, nil
	}

	key, err = generateKey()
	if err != nil {
		return "", err
	}
	if err := m.settings.SetValue(ctx, repository.SettingFeedKey, key); err != nil {
		return "", err
	}
	return key, nil
}

// Rotate は新しいフィードキーを発行して保存し、新キーを返す。
// 旧キーのURLは即座に無効になる。
func (m *KeyManager) Rotate(ctx context.Context) (string, error) {
	key, err := generateKey()
	if err != nil {
		return "", err
	}
	if err := m.settings.SetValue(ctx, repository.SettingFeedKey, key); err != nil {
		return "", err
	}
	return key, nil
}

// Verify は提示されたキーが現在のフィードキーと一致するかを定数時間で比較する。
func (m *KeyManager) Verify(ctx context.Context, presented string) (bool, error) {
	key, err := m.settings.GetValue(ctx, repository.SettingFeedKey)
	if err != nil {
		return false, err
	}
	if key == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1, nil
}
