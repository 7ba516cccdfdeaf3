package model

// QualityEventType classifies a lead quality event. Events are written by
// feedback collection and decayed in place by the scorer.
type QualityEventType string

const (
	EventCancellation     QualityEventType = "cancellation"
	EventFeedbackNegative QualityEventType = "feedback_negative"
	EventDecay            QualityEventType = "decay"
)

// ReviewCohort is a jurisdiction and trade pair whose leads score poorly.
type ReviewCohort struct {
	Jurisdiction string  `json:"jurisdiction"`
	Trade        string  `json:"trade"`
	Leads        int     `json:"leads"`
	AvgScore     float64 `json:"avg_score"`
	Flagged      bool    `json:"flagged"`
}
