package indicator

import (
	"context"
	"math"
	"testing"
	"time"

	"trading-systemv1/internal/model"
)

func makeCandle(tf model.Timeframe, bucket time.Time, close float64) model.Candle {
	return model.Candle{
		Timeframe:   tf,
		BucketStart: bucket,
		Open:        close,
		High:        close + 1,
		Low:         close - 1,
		Close:       close,
		Volume:      100,
	}
}

func TestEngine_SMA20(t *testing.T) {
	engine := NewEngine([]TFIndicatorConfig{
		{TF: model.TF5M, Indicators: []IndicatorConfig{{Type: "SMA", Period: 20}}},
	})

	base := time.Now().UTC()
	for i := 0; i < 25; i++ {
		results := engine.Process(makeCandle(model.TF5M, base.Add(time.Duration(i)*5*time.Minute), 100.0))
		if i >= 19 {
			if len(results) != 1 {
				t.Fatalf("candle %d: expected 1 result, got %d", i, len(results))
			}
			if !results[0].Ready {
				t.Errorf("candle %d: expected Ready=true", i)
			}
			if math.Abs(results[0].Value-100.0) > 0.001 {
				t.Errorf("candle %d: expected SMA=100.0, got %.4f", i, results[0].Value)
			}
			if results[0].Name != "SMA" || results[0].Period != 20 {
				t.Errorf("candle %d: expected name=SMA period=20, got %s/%d", i, results[0].Name, results[0].Period)
			}
		}
	}
}

func TestEngine_MultiIndicator(t *testing.T) {
	engine := NewEngine([]TFIndicatorConfig{
		{TF: model.TF5M, Indicators: []IndicatorConfig{
			{Type: "SMA", Period: 5},
			{Type: "EMA", Period: 5},
			{Type: "RSI", Period: 14},
		}},
	})

	base := time.Now().UTC()
	for i := 0; i < 20; i++ {
		results := engine.Process(makeCandle(model.TF5M, base.Add(time.Duration(i)*5*time.Minute), 100+float64(i)))
		if len(results) != 3 {
			t.Fatalf("candle %d: expected 3 results, got %d", i, len(results))
		}
	}
}

func TestEngine_MultiTimeframe(t *testing.T) {
	engine := NewEngine([]TFIndicatorConfig{
		{TF: model.TF5M, Indicators: []IndicatorConfig{{Type: "SMA", Period: 5}}},
		{TF: model.TF4H, Indicators: []IndicatorConfig{{Type: "EMA", Period: 10}}},
	})

	base := time.Now().UTC()
	results5m := engine.Process(makeCandle(model.TF5M, base, 50))
	if len(results5m) != 1 {
		t.Fatalf("expected 1 result for 5M, got %d", len(results5m))
	}
	if results5m[0].Timeframe != model.TF5M {
		t.Errorf("expected timeframe=5M, got %s", results5m[0].Timeframe)
	}

	results4h := engine.Process(makeCandle(model.TF4H, base, 50))
	if len(results4h) != 1 {
		t.Fatalf("expected 1 result for 4H, got %d", len(results4h))
	}
	if results4h[0].Timeframe != model.TF4H {
		t.Errorf("expected timeframe=4H, got %s", results4h[0].Timeframe)
	}
}

func TestEngine_Run_EmitsResults(t *testing.T) {
	engine := NewEngine([]TFIndicatorConfig{
		{TF: model.TF5M, Indicators: []IndicatorConfig{{Type: "SMA", Period: 5}}},
	})

	candleCh := make(chan model.Candle, 10)
	resCh := make(chan model.IndicatorResult, 10)

	base := time.Now().UTC()
	candleCh <- makeCandle(model.TF5M, base, 100)
	close(candleCh)

	engine.Run(context.Background(), candleCh, resCh)

	select {
	case r := <-resCh:
		if r.Name != "SMA" {
			t.Errorf("expected SMA result, got %s", r.Name)
		}
	default:
		t.Fatal("expected a result on resCh")
	}
}

func TestProcessPeek_NilBeforeProcess(t *testing.T) {
	engine := NewEngine([]TFIndicatorConfig{
		{TF: model.TF5M, Indicators: []IndicatorConfig{{Type: "SMA", Period: 5}}},
	})

	results := engine.ProcessPeek(makeCandle(model.TF5M, time.Now().UTC(), 50))
	if results != nil {
		t.Fatalf("expected nil results before any Process, got %d", len(results))
	}
}

func TestProcessPeek_LiveResults(t *testing.T) {
	engine := NewEngine([]TFIndicatorConfig{
		{TF: model.TF5M, Indicators: []IndicatorConfig{{Type: "SMA", Period: 5}}},
	})

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		engine.Process(makeCandle(model.TF5M, base.Add(time.Duration(i)*5*time.Minute), 100))
	}

	forming := makeCandle(model.TF5M, base.Add(5*5*time.Minute), 110)
	results := engine.ProcessPeek(forming)
	if len(results) != 1 {
		t.Fatalf("expected 1 peek result, got %d", len(results))
	}
	if !results[0].Live {
		t.Error("expected Live=true on peek result")
	}
	if !results[0].Ready {
		t.Error("expected Ready=true on peek result")
	}

	expected := (100.0*4 + 110) / 5
	if math.Abs(results[0].Value-expected) > 0.01 {
		t.Errorf("expected peek value=%.2f, got %.4f", expected, results[0].Value)
	}
}

func TestProcessPeek_DoesNotMutateState(t *testing.T) {
	engine := NewEngine([]TFIndicatorConfig{
		{TF: model.TF5M, Indicators: []IndicatorConfig{{Type: "SMA", Period: 5}}},
	})

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		engine.Process(makeCandle(model.TF5M, base.Add(time.Duration(i)*5*time.Minute), 100))
	}

	baseline := engine.Process(makeCandle(model.TF5M, base.Add(5*5*time.Minute), 100))
	valueBefore := baseline[0].Value

	engine.ProcessPeek(makeCandle(model.TF5M, base.Add(6*5*time.Minute), 99999))

	after := engine.Process(makeCandle(model.TF5M, base.Add(6*5*time.Minute), 100))
	if math.Abs(after[0].Value-valueBefore) > 0.001 {
		t.Errorf("ProcessPeek mutated state! before=%.4f after=%.4f", valueBefore, after[0].Value)
	}
}

func TestEngine_Latest(t *testing.T) {
	engine := NewEngine([]TFIndicatorConfig{
		{TF: model.TF5M, Indicators: []IndicatorConfig{{Type: "SMA", Period: 3}}},
	})

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		engine.Process(makeCandle(model.TF5M, base.Add(time.Duration(i)*5*time.Minute), 100))
	}

	v, ready, found := engine.Latest(model.TF5M, "SMA")
	if !found || !ready {
		t.Fatalf("expected found+ready, got found=%v ready=%v", found, ready)
	}
	if math.Abs(v-100.0) > 0.001 {
		t.Errorf("expected value=100, got %.4f", v)
	}

	if _, _, found := engine.Latest(model.TF4H, "SMA"); found {
		t.Error("expected not found for unconfigured timeframe")
	}
}
