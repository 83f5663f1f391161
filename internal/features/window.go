package features

import "lending-risk-lab/internal/domain"

// Window horizons in seconds.
const (
	HistoryHorizon int64 = 180 * 24 * 60 * 60
	LabelHorizon   int64 = 90 * 24 * 60 * 60
)

// Windows is the transient split of one account history around an anchor.
type Windows struct {
	History []*domain.Event // anchor-180d <= ts < anchor
	Label   []*domain.Event // anchor < ts <= anchor+90d
}

// SelectWindows partitions history around anchor. Events at the anchor
// timestamp fall in neither window. The input slice is not modified and
// window order follows input order.
func SelectWindows(history []*domain.Event, anchor int64) Windows {
	var w Windows
	for _, e := range history {
		switch {
		case e.Timestamp < anchor && e.Timestamp >= anchor-HistoryHorizon:
			w.History = append(w.History, e)
		case e.Timestamp > anchor && e.Timestamp <= anchor+LabelHorizon:
			w.Label = append(w.Label, e)
		}
	}
	return w
}
