package model

import "time"

// ScheduleState はフィード自動生成のスケジュール状態を表す。
// feed_scheduleテーブルの単一行に対応し、更新はスケジュールコントローラーのみが行う。
type ScheduleState struct {
	ID                  int64
	Frequency           string
	NextRunAt           time.Time
	LastSuccessAt       *time.Time
	LastFailureAt       *time.Time
	ConsecutiveFailures int
	LastError           string
	UpdatedAt           time.Time
}

// RunReport は1回のフィード生成実行の結果サマリーを表す。
type RunReport struct {
	RunID        string
	ProductCount int
	SlotCount    int
	Duration     time.Duration
	GeneratedAt  time.Time
	Slots        []SlotResult
}

// SlotResult は生成された1スロット（通貨×言語の組）の結果を表す。
type SlotResult struct {
	Filename  string
	Currency  string
	Language  string
	ItemCount int
	URL       string
}

// FeedStatus はフィードの現在状態を表す。ステータスAPIで返される。
type FeedStatus struct {
	Exists        bool
	Filename      string
	SizeBytes     int64
	LastGenerated *time.Time
	ProductCount  int
	FeedURL       string
	Schedule      *ScheduleState
}
