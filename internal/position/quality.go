package position

// Quality is a coarse signal-quality tier derived from reported accuracy.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
	QualityPoor   Quality = "poor"
)

// Tier upper bounds in metres, inclusive.
const (
	HighAccuracyM   = 10
	MediumAccuracyM = 20
	LowAccuracyM    = 50
)

// ClassifyAccuracy maps a horizontal accuracy in metres to a Quality tier.
func ClassifyAccuracy(accuracyM float64) Quality {
	switch {
	case accuracyM <= HighAccuracyM:
		return QualityHigh
	case accuracyM <= MediumAccuracyM:
		return QualityMedium
	case accuracyM <= LowAccuracyM:
		return QualityLow
	default:
		return QualityPoor
	}
}
