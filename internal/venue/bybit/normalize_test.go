package bybit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQtyFloorsToStep(t *testing.T) {
	assert.Equal(t, "0.266", NormalizeQty(0.2667, 0.001))
	assert.Equal(t, "0.266", NormalizeQty(0.266, 0.001))
	assert.Equal(t, "0.06", NormalizeQty(0.06, 0.001))
	assert.Equal(t, "1", NormalizeQty(1.9, 1))
}

func TestNormalizeQtyNoFloatingPointTail(t *testing.T) {
	// 0.1+0.2 style artifacts must not leak into the wire string.
	out := NormalizeQty(0.30000000000000004, 0.001)
	assert.Equal(t, "0.3", out)
}

func TestNormalizeQtyZeroStepPassesThrough(t *testing.T) {
	assert.Equal(t, "0.1234", NormalizeQty(0.1234, 0))
}

func TestNormalizePriceRoundsToTick(t *testing.T) {
	assert.Equal(t, "50448.2", NormalizePrice(50448.2, 0.1))
	assert.Equal(t, "50448.2", NormalizePrice(50448.24, 0.1))
	assert.Equal(t, "50448.3", NormalizePrice(50448.26, 0.1))
	assert.Equal(t, "49700", NormalizePrice(49700.0, 0.5))
}

func TestFlooredQty(t *testing.T) {
	assert.InDelta(t, 0.266, FlooredQty(0.2667, 0.001), 1e-12)
	assert.InDelta(t, 0.06, FlooredQty(0.06, 0.001), 1e-12)
	assert.Zero(t, FlooredQty(0.0004, 0.001))
	assert.InDelta(t, 0.5, FlooredQty(0.5, 0), 1e-12)
}

func TestIntervalCodes(t *testing.T) {
	assert.Equal(t, "5", intervalCode("5m"))
	assert.Equal(t, "60", intervalCode("1h"))
	assert.Equal(t, "D", intervalCode("1d"))
}

func TestParseFloatTolerant(t *testing.T) {
	assert.Equal(t, 0.0, parseFloat(""))
	assert.Equal(t, 0.0, parseFloat("n/a"))
	assert.Equal(t, 50_000.5, parseFloat("50000.5"))
}
