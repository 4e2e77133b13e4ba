package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.DiscardHandler)

func testServer() *Server {
	echo := Tool{
		Name:        "echo",
		Description: "returns its arguments",
		InputSchema: map[string]any{"type": "object"},
		Handler: func(_ context.Context, params json.RawMessage) (any, error) {
			var args map[string]any
			if err := json.Unmarshal(params, &args); err != nil {
				return nil, err
			}
			return args, nil
		},
	}
	return NewServer(0, []Tool{echo}, testLogger)
}

func TestDispatchToolsList(t *testing.T) {
	s := testServer()

	resp := s.dispatch(context.Background(), request{ID: "1", Method: "tools/list"})
	assert.Equal(t, "1", resp.ID)
	assert.Empty(t, resp.Error)
	require.NotNil(t, resp.Result)

	result := resp.Result.(map[string]any)
	tools := result["tools"].([]Tool)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.NotEmpty(t, tools[0].Description)
	assert.NotNil(t, tools[0].InputSchema)
}

func TestDispatchToolsCall(t *testing.T) {
	s := testServer()

	params, _ := json.Marshal(callParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"symbol":"BTCUSDT"}`),
	})
	resp := s.dispatch(context.Background(), request{ID: "2", Method: "tools/call", Params: params})

	assert.Empty(t, resp.Error)
	assert.Equal(t, map[string]any{"symbol": "BTCUSDT"}, resp.Result)
	assert.NotZero(t, resp.Timestamp)
}

func TestDispatchUnknownTool(t *testing.T) {
	s := testServer()

	params, _ := json.Marshal(callParams{Name: "missing"})
	resp := s.dispatch(context.Background(), request{ID: "3", Method: "tools/call", Params: params})
	assert.Contains(t, resp.Error, "unknown tool")
}

func TestDispatchUnknownMethod(t *testing.T) {
	s := testServer()
	resp := s.dispatch(context.Background(), request{ID: "4", Method: "nope"})
	assert.Contains(t, resp.Error, "unknown method")
}

func TestDispatchBadParams(t *testing.T) {
	s := testServer()
	resp := s.dispatch(context.Background(), request{ID: "5", Method: "tools/call", Params: json.RawMessage(`[`)})
	assert.Contains(t, resp.Error, "invalid params")
}

func TestRegistryCoversRequiredTools(t *testing.T) {
	tools := Registry(Deps{Symbol: "BTCUSDT", Interval: "5m"})

	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		names[tool.Name] = true
	}
	for _, required := range []string{
		"get_market_data", "analyze_technical", "kalman_predict", "ai_analysis",
		"execute_trade", "get_positions", "close_position", "get_market_data_1m",
		"analyze_candle_pattern", "detect_micro_trend", "analyze_order_book",
	} {
		assert.True(t, names[required], "missing tool %s", required)
	}
}
