// Package settings 持久化学习者设置（等级、母语、学习目标、会话池上限、专注模式）。
// 存储为 SQLite 中的键值行，值为 JSON。
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"halo/internal/diag"
	"halo/internal/prompt"
	"halo/pkg/contract"
)

// Key 为学习者设置所在的行键。
const Key = "halo_language_settings"

// Settings: 学习者设置。
type Settings struct {
	Level          prompt.Level `json:"level"`
	NativeLanguage string       `json:"nativeLanguage"`
	LearningGoals  []string     `json:"learningGoals"`
	// SessionPoolSize 为用户设定的会话池上限；nil 表示使用默认值。
	SessionPoolSize *int `json:"sessionPoolSize,omitempty"`
	FocusMode       bool `json:"focusMode,omitempty"`
}

// Defaults 返回默认设置。
func Defaults() Settings {
	return Settings{Level: prompt.DefaultLevel, NativeLanguage: "English", LearningGoals: []string{}}
}

// Validate 校验并补齐缺省字段。
func (s *Settings) Validate() error {
	l, err := prompt.ParseLevel(string(s.Level))
	if err != nil {
		return err
	}
	s.Level = l
	if s.NativeLanguage == "" {
		s.NativeLanguage = "English"
	}
	if s.LearningGoals == nil {
		s.LearningGoals = []string{}
	}
	if s.SessionPoolSize != nil && *s.SessionPoolSize < 1 {
		return fmt.Errorf("sessionPoolSize must be >= 1: %w", contract.ErrInvalidInput)
	}
	return nil
}

// Store 为设置存储。nil Store 总是返回默认值。
type Store struct {
	db     *sql.DB
	path   string
	logger *diag.Logger
}

// Open 打开（必要时创建）path 处的数据库。
func Open(ctx context.Context, path string, logger *diag.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("settings dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db, path: path, logger: logger}, nil
}

// Path 返回数据库路径。
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close 关闭数据库。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load 读取设置；不存在或无法解析时返回默认值（后者记录警告）。
func (s *Store) Load(ctx context.Context) (Settings, error) {
	if s == nil || s.db == nil {
		return Defaults(), nil
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, Key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return Defaults(), fmt.Errorf("load settings: %w", err)
	}
	out := Defaults()
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.logger.Warn("settings", "stored settings unreadable, using defaults", map[string]string{"error": err.Error()})
		return Defaults(), nil
	}
	if err := out.Validate(); err != nil {
		s.logger.Warn("settings", "stored settings invalid, using defaults", map[string]string{"error": err.Error()})
		return Defaults(), nil
	}
	return out, nil
}

// Save 校验并写入设置。
func (s *Store) Save(ctx context.Context, v Settings) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("settings store not configured: %w", contract.ErrInvalidInput)
	}
	if err := v.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		Key, string(b), diag.NowUTC())
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
