package technical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// candle builds one candle with explicit OHLCV.
func candle(i int, open, high, low, close, volume float64) domain.Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return domain.Candle{
		OpenTime:  base.Add(time.Duration(i) * time.Minute),
		CloseTime: base.Add(time.Duration(i+1) * time.Minute),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}

func TestAnalyzePatternsShortInput(t *testing.T) {
	p := AnalyzePatterns([]domain.Candle{candle(0, 1, 2, 0.5, 1.5, 10)})
	assert.Equal(t, domain.CandlePattern{}, p)
}

func TestThreeGreenSoldiers(t *testing.T) {
	series := []domain.Candle{
		candle(0, 100, 101, 99, 100.5, 10),
		candle(1, 100, 102, 99, 101, 10),
		candle(2, 101, 103, 100, 102, 10),
		candle(3, 102, 104, 101, 103, 10),
	}
	p := AnalyzePatterns(series)
	assert.True(t, p.ThreeGreenSoldiers)
	assert.False(t, p.ThreeRedSoldiers)
}

func TestThreeRedSoldiers(t *testing.T) {
	series := []domain.Candle{
		candle(0, 100, 101, 99, 100.5, 10),
		candle(1, 101, 102, 99, 100, 10),
		candle(2, 100, 101, 98, 99, 10),
		candle(3, 99, 100, 97, 98, 10),
	}
	p := AnalyzePatterns(series)
	assert.True(t, p.ThreeRedSoldiers)
	assert.False(t, p.ThreeGreenSoldiers)
}

func TestMomentumWeakening(t *testing.T) {
	series := []domain.Candle{
		candle(0, 100, 105, 99, 100, 10),
		candle(1, 100, 105, 99, 104, 10), // body 4
		candle(2, 104, 107, 103, 106, 10), // body 2
		candle(3, 106, 108, 105, 106.5, 10), // body 0.5
	}
	p := AnalyzePatterns(series)
	assert.True(t, p.MomentumWeakening)
}

func TestVolumeSpike(t *testing.T) {
	series := []domain.Candle{
		candle(0, 100, 101, 99, 100, 100),
		candle(1, 100, 101, 99, 100.5, 100),
		candle(2, 100, 101, 99, 100.2, 100),
		candle(3, 100, 101, 99, 100.8, 500),
	}
	p := AnalyzePatterns(series)
	assert.True(t, p.VolumeSpike)
}

func TestDoji(t *testing.T) {
	series := []domain.Candle{
		candle(0, 100, 101, 99, 100.5, 10),
		candle(1, 100, 101, 99, 100.5, 10),
		candle(2, 100, 101, 99, 100.5, 10),
		candle(3, 100, 102, 98, 100.05, 10), // body 0.05, range 4
	}
	p := AnalyzePatterns(series)
	assert.True(t, p.Doji)
}
