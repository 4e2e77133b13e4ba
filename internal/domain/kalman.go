package domain

// KalmanPrediction is the output of the scalar Kalman filter pass over the
// close-price series. Confidence and Accuracy are clipped into [0,1].
type KalmanPrediction struct {
	PredictedPrice float64
	Confidence     float64
	Trend          Trend
	Accuracy       float64
	Timeframe      string
}
