// Package logger は認証サービス全体で使うJSON構造化ログのセットアップを提供する。
// ログイン試行や管理操作の記録はログ基盤側で集約するため、出力は常にJSON形式とする。
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup は指定されたwriterに出力するJSON構造化ログのslog.Loggerを生成する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログをグローバルロガーとして設定する。
// writerがnilの場合はos.Stdoutに出力する。
// 各パッケージはslogのパッケージ関数経由でこのロガーを利用する。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}
