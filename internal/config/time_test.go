package config

import (
	"testing"
	"time"
)

func TestCalculateMillisecondsOfCheckingPeriod(t *testing.T) {
	timer := Timer{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}
	want := uint64((24*60*60 + 2*60*60 + 3*60 + 4) * 1000)

	if got := CalculateMillisecondsOfCheckingPeriod(timer); got != want {
		t.Fatalf("CalculateMillisecondsOfCheckingPeriod returned %d, want %d", got, want)
	}
}

func TestCalculateBetweenTime(t *testing.T) {
	t.Run("enforces minimum interval", func(t *testing.T) {
		if got := CalculateBetweenTime(Timer{}); got != time.Second {
			t.Fatalf("CalculateBetweenTime returned %s, want 1s", got)
		}
	})

	t.Run("returns configured duration", func(t *testing.T) {
		if got := CalculateBetweenTime(Timer{Minutes: 1, Seconds: 30}); got != 90*time.Second {
			t.Fatalf("CalculateBetweenTime returned %s, want 1m30s", got)
		}
	})
}

func TestSetBetweenTime(t *testing.T) {
	origCfg := GetConfig()
	t.Cleanup(func() {
		configValue.Store(origCfg)
		SetBetweenTime()
	})

	testCfg := origCfg
	testCfg.Anomaly.ScanTimer = Timer{Minutes: 10}
	testCfg.Retention.CleanupTimer = Timer{Hours: 6}
	testCfg.DenyList.RefreshTimer = Timer{}

	configValue.Store(testCfg)
	SetBetweenTime()

	if got := GetAnomalyScanInterval(); got != 10*time.Minute {
		t.Fatalf("GetAnomalyScanInterval returned %s, want 10m", got)
	}
	if got := GetRetentionInterval(); got != 6*time.Hour {
		t.Fatalf("GetRetentionInterval returned %s, want 6h", got)
	}
	if got := GetDenyListRefreshInterval(); got != defaultDenyListRefreshInterval {
		t.Fatalf("GetDenyListRefreshInterval returned %s, want default", got)
	}
}

func TestIntervalUpdatesNotifyListeners(t *testing.T) {
	iv := &interval{fallback: time.Minute}

	updates := iv.updates()
	if got := <-updates; got != time.Minute {
		t.Fatalf("initial value = %s, want fallback", got)
	}

	iv.set(5 * time.Minute)
	select {
	case got := <-updates:
		if got != 5*time.Minute {
			t.Fatalf("update = %s, want 5m", got)
		}
	case <-time.After(time.Second):
		t.Fatal("listener was not notified")
	}

	iv.set(5 * time.Minute)
	select {
	case got := <-updates:
		t.Fatalf("unchanged value must not notify, got %s", got)
	default:
	}

	iv.set(0)
	if got := iv.get(); got != time.Minute {
		t.Fatalf("non-positive value should fall back, got %s", got)
	}
}

func TestSlowListenerDoesNotBlockWriter(t *testing.T) {
	iv := &interval{fallback: time.Second}
	_ = iv.updates()

	done := make(chan struct{})
	go func() {
		for i := 2; i < 10; i++ {
			iv.set(time.Duration(i) * time.Second)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("set blocked on a full listener channel")
	}
}
