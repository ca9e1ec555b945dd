package schedule

import (
	"time"

	"github.com/hitoshi/merchantfeed/internal/model"
)

const (
	// maxBackoff は指数バックオフの最大遅延（60分）。
	maxBackoff = 60 * time.Minute
	// notificationThreshold は失敗通知を始める連続失敗回数。
	notificationThreshold = 3
)

// CalculateBackoff は連続失敗回数に基づいて次回再試行までの遅延を計算する。
// n回目の失敗後の遅延は2^n分で、60分を上限とする（2、4、8、16、32、60、60…）。
func CalculateBackoff(consecutiveFailures int) time.Duration {
	delay := time.Minute
	for i := 0; i < consecutiveFailures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplySuccess は生成成功時にスケジュール状態をリセットする。
// 連続失敗回数を0に戻し、次回実行を通常の間隔で設定する。
func ApplySuccess(state *model.ScheduleState, interval time.Duration, now time.Time) {
	state.ConsecutiveFailures = 0
	state.LastError = ""
	state.LastSuccessAt = &now
	state.NextRunAt = now.Add(interval)
	state.UpdatedAt = now
}

// ApplyFailure は生成失敗時にスケジュール状態へバックオフを適用する。
// 連続失敗回数をインクリメントし、指数バックオフで次回再試行を設定する。
func ApplyFailure(state *model.ScheduleState, reason string, now time.Time) {
	state.ConsecutiveFailures++
	state.LastError = reason
	state.LastFailureAt = &now
	state.NextRunAt = now.Add(CalculateBackoff(state.ConsecutiveFailures))
	state.UpdatedAt = now
}

// ShouldNotify は現在の連続失敗回数で通知を送るべきかを返す。
// しきい値に達して以降は、成功でリセットされるまで失敗のたびに通知する。
func ShouldNotify(consecutiveFailures int) bool {
	return consecutiveFailures >= notificationThreshold
}
