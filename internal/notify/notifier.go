// Package notify はフィード生成結果のメール通知を提供する。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/hitoshi/merchantfeed/internal/model"
)

// Notifier はフィード生成結果の通知インターフェース。
type Notifier interface {
	// NotifyFailure は連続失敗の通知を送る。
	// スケジュールコントローラーが失敗しきい値に達したときに呼ぶ。
	NotifyFailure(ctx context.Context, consecutiveFailures int, lastError string) error

	// NotifySuccess は手動生成の成功通知を送る。
	NotifySuccess(ctx context.Context, report *model.RunReport) error
}

// NopNotifier は何も送信しない通知実装。通知が無効化されている場合に使う。
type NopNotifier struct{}

// NotifyFailure は何もしない。
func (NopNotifier) NotifyFailure(ctx context.Context, consecutiveFailures int, lastError string) error {
	return nil
}

// NotifySuccess は何もしない。
func (NopNotifier) NotifySuccess(ctx context.Context, report *model.RunReport) error {
	return nil
}

// SMTPNotifier はSMTP経由でプレーンテキストのメールを送る通知実装。
type SMTPNotifier struct {
	addr   string // host:port
	from   string
	to     string
	logger *slog.Logger

	// sendMail はテストで差し替えるための送信フック。
	sendMail func(addr, from string, to []string, msg []byte) error
}

// NewSMTPNotifier はSMTPNotifierを生成する。
func NewSMTPNotifier(addr, from, to string, logger *slog.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		addr:   addr,
		from:   from,
		to:     to,
		logger: logger,
		sendMail: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// NotifyFailure は連続失敗の通知を送る。
func (n *SMTPNotifier) NotifyFailure(ctx context.Context, consecutiveFailures int, lastError string) error {
	subject := "商品フィードの生成が連続で失敗しています"
	body := fmt.Sprintf(
		"商品フィードの生成が%d回連続で失敗しました。\n\n直近のエラー: %s\n\n設定とログを確認してください。既存のフィードはそのまま配信されています。\n",
		consecutiveFailures, lastError,
	)
	return n.send(subject, body)
}

// NotifySuccess は手動生成の成功通知を送る。
func (n *SMTPNotifier) NotifySuccess(ctx context.Context, report *model.RunReport) error {
	subject := "商品フィードの生成が完了しました"
	body := fmt.Sprintf(
		"商品フィードの生成が完了しました。\n\n商品数: %d\nスロット数: %d\n所要時間: %s\n生成日時: %s\n",
		report.ProductCount, report.SlotCount,
		report.Duration.Round(time.Millisecond),
		report.GeneratedAt.Format(time.RFC3339),
	)
	return n.send(subject, body)
}

// send はRFC 5322形式の最小限のメッセージを組み立てて送信する。
// 件名は非ASCII文字を含むため、RFC 2047のQエンコーディングでヘッダーに収める。
func (n *SMTPNotifier) send(subject, body string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.from)
	fmt.Fprintf(&msg, "To: %s\r\n", n.to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	if err := n.sendMail(n.addr, n.from, []string{n.to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("通知メールの送信に失敗しました: %w", err)
	}

	n.logger.Info("notification_sent", slog.String("to", n.to), slog.String("subject", subject))
	return nil
}

// compile-time interface check
var (
	_ Notifier = (*SMTPNotifier)(nil)
	_ Notifier = NopNotifier{}
)
