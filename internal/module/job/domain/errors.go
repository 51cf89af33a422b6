package domain

import "errors"

var (
	// ErrJobNotFound はジョブが存在しない場合のエラー
	ErrJobNotFound = errors.New("job not found")

	// ErrJobCompleted は完了済みジョブへの書き込みを拒否した場合のエラー
	ErrJobCompleted = errors.New("job already completed")

	// ErrInvalidTransition は許可されていないステータス遷移のエラー
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidRequest は生成リクエストが不正な場合のエラー
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrAlertNotFound は継続性アラートが存在しない場合のエラー
	ErrAlertNotFound = errors.New("continuity alert not found")

	// ErrUnknownEventKind は未知のイベント種別のエラー
	ErrUnknownEventKind = errors.New("unknown event kind")
)
