package cvd

import (
	"testing"
	"time"

	"TapeFlow/internal/domain/models"
)

func trade(sym string, ts time.Time, side models.TradeSide, vol float64) models.Trade {
	return models.Trade{Symbol: sym, Timestamp: ts, Side: side, Price: 5500, Volume: vol}
}

func TestApplyRunningSum(t *testing.T) {
	tr := NewTracker(100, 10)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	st := tr.Apply(trade("WDO", base, models.SideBuy, 50))
	if st.Value != 50 {
		t.Fatalf("cvd = %v, want 50", st.Value)
	}
	st = tr.Apply(trade("WDO", base.Add(time.Second), models.SideSell, 30))
	if st.Value != 20 {
		t.Fatalf("cvd = %v, want 20", st.Value)
	}
	st = tr.Apply(trade("WDO", base.Add(2*time.Second), models.SideSell, 40))
	if st.Value != -20 {
		t.Fatalf("cvd = %v, want -20", st.Value)
	}
}

// The running sum always equals the sum of signed volumes regardless of
// ordering or history wraparound.
func TestRunningSumMatchesSignedVolumes(t *testing.T) {
	tr := NewTracker(8, 4)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	var want float64
	side := models.SideBuy
	for i := 0; i < 50; i++ {
		if i%3 == 0 {
			side = models.SideSell
		} else {
			side = models.SideBuy
		}
		vol := float64(10 + i%7)
		tradeIn := trade("WDO", base.Add(time.Duration(i)*time.Second), side, vol)
		want += tradeIn.SignedVolume()
		st := tr.Apply(tradeIn)
		if st.Value != want {
			t.Fatalf("at %d: cvd = %v, want %v", i, st.Value, want)
		}
	}
}

func TestSymbolsIndependent(t *testing.T) {
	tr := NewTracker(100, 10)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tr.Apply(trade("WDO", base, models.SideBuy, 100))
	tr.Apply(trade("DOL", base, models.SideSell, 40))

	wdo, ok := tr.State("WDO")
	if !ok || wdo.Value != 100 {
		t.Fatalf("wdo = %v %v", wdo.Value, ok)
	}
	dol, ok := tr.State("DOL")
	if !ok || dol.Value != -40 {
		t.Fatalf("dol = %v %v", dol.Value, ok)
	}
}

func TestROCOverLookback(t *testing.T) {
	tr := NewTracker(100, 3)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// CVD path: 10, 20, 30, 40, 50. ROC lookback 3 -> 50 - 20 = 30.
	var st models.CVDState
	for i := 0; i < 5; i++ {
		st = tr.Apply(trade("WDO", base.Add(time.Duration(i)*time.Second), models.SideBuy, 10))
	}
	if st.ROC != 30 {
		t.Fatalf("roc = %v, want 30", st.ROC)
	}
}

func TestROCShortHistory(t *testing.T) {
	tr := NewTracker(100, 10)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	st := tr.Apply(trade("WDO", base, models.SideBuy, 10))
	if st.ROC != 0 {
		t.Fatalf("roc with one sample = %v, want 0", st.ROC)
	}
	st = tr.Apply(trade("WDO", base.Add(time.Second), models.SideBuy, 15))
	if st.ROC != 15 {
		t.Fatalf("roc with two samples = %v, want 15", st.ROC)
	}
}

func TestUnknownSymbol(t *testing.T) {
	tr := NewTracker(10, 2)
	if _, ok := tr.State("WIN"); ok {
		t.Fatalf("expected no state")
	}
	if h := tr.History("WIN"); h != nil {
		t.Fatalf("expected nil history")
	}
}

func TestReset(t *testing.T) {
	tr := NewTracker(10, 2)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tr.Apply(trade("WDO", base, models.SideBuy, 10))
	tr.Reset("WDO")
	if _, ok := tr.State("WDO"); ok {
		t.Fatalf("expected state cleared")
	}
}
