package manipulation

import (
	"testing"
	"time"

	"TapeFlow/internal/domain/models"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func cfg() Config {
	return Config{
		Layering: LayeringConfig{
			MinLevels:        4,
			UniformTolerance: 0.1,
			MinLevelVolume:   50,
		},
		Spoofing: SpoofingConfig{
			LevelsToCheck:  5,
			ImbalanceRatio: 4,
		},
		BlockSignals: true,
		SuppressFor:  30 * time.Second,
	}
}

func levels(vols ...float64) []models.BookLevel {
	out := make([]models.BookLevel, len(vols))
	for i, v := range vols {
		out[i] = models.BookLevel{Price: 5500 - float64(i)*0.5, Volume: v}
	}
	return out
}

func TestLayeringUniformWall(t *testing.T) {
	d := NewDetector(cfg(), nil, nil)
	book := models.BookSnapshot{
		Symbol:    "WDO",
		Timestamp: t0,
		Bids:      levels(100, 102, 98, 101),
		Asks:      levels(100, 30, 45, 60),
	}
	ws := d.Inspect(book)
	found := false
	for _, w := range ws {
		if w.Kind == models.WarningLayering {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected layering warning, got %v", ws)
	}
	if !d.Suppressed("WDO", t0.Add(10*time.Second)) {
		t.Fatalf("symbol should be suppressed after a finding")
	}
	if d.Suppressed("WDO", t0.Add(31*time.Second)) {
		t.Fatalf("suppression should lapse after the window")
	}
}

func TestLayeringVariedVolumes(t *testing.T) {
	d := NewDetector(cfg(), nil, nil)
	book := models.BookSnapshot{
		Symbol:    "WDO",
		Timestamp: t0,
		Bids:      levels(100, 60, 140, 90),
		Asks:      levels(80, 120, 70, 95),
	}
	for _, w := range d.Inspect(book) {
		if w.Kind == models.WarningLayering {
			t.Fatalf("varied volumes must not read as layering")
		}
	}
}

func TestSpoofingImbalance(t *testing.T) {
	d := NewDetector(cfg(), nil, nil)
	book := models.BookSnapshot{
		Symbol:    "DOL",
		Timestamp: t0,
		Bids:      levels(500, 480, 510, 490, 505),
		Asks:      levels(100, 80, 90, 85, 95),
	}
	ws := d.Inspect(book)
	found := false
	for _, w := range ws {
		if w.Kind == models.WarningSpoofing {
			found = true
			if w.Details["ratio"] < 4 {
				t.Fatalf("ratio = %v", w.Details["ratio"])
			}
		}
	}
	if !found {
		t.Fatalf("expected spoofing warning")
	}
}

func TestSpoofingBalancedBook(t *testing.T) {
	d := NewDetector(cfg(), nil, nil)
	book := models.BookSnapshot{
		Symbol:    "DOL",
		Timestamp: t0,
		Bids:      levels(100, 90, 110, 95, 105),
		Asks:      levels(95, 105, 100, 90, 110),
	}
	for _, w := range d.Inspect(book) {
		if w.Kind == models.WarningSpoofing {
			t.Fatalf("balanced book must not read as spoofing")
		}
	}
	if d.Suppressed("DOL", t0) {
		t.Fatalf("no finding, no suppression")
	}
}

func TestSuppressionPerSymbol(t *testing.T) {
	d := NewDetector(cfg(), nil, nil)
	book := models.BookSnapshot{
		Symbol:    "WDO",
		Timestamp: t0,
		Bids:      levels(100, 100, 100, 100),
		Asks:      levels(20, 20, 20, 20),
	}
	if len(d.Inspect(book)) == 0 {
		t.Fatalf("expected findings")
	}
	if d.Suppressed("DOL", t0.Add(time.Second)) {
		t.Fatalf("suppression must not leak across symbols")
	}
}

func TestBlockSignalsDisabled(t *testing.T) {
	c := cfg()
	c.BlockSignals = false
	d := NewDetector(c, nil, nil)
	book := models.BookSnapshot{
		Symbol:    "WDO",
		Timestamp: t0,
		Bids:      levels(100, 100, 100, 100),
		Asks:      levels(20, 20, 20, 20),
	}
	if len(d.Inspect(book)) == 0 {
		t.Fatalf("findings still warn with blocking off")
	}
	if d.Suppressed("WDO", t0.Add(time.Second)) {
		t.Fatalf("blocking off must not suppress")
	}
}
