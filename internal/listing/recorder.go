package listing

// Recorder は入札とコメントの結果をメトリクスとして記録する。
type Recorder interface {
	RecordBid(accepted bool)
	RecordComment(op string)
}

type nopRecorder struct{}

func (nopRecorder) RecordBid(bool) {}
func (nopRecorder) RecordComment(string) {}
