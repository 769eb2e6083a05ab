package config

import (
	"sync"
	"time"
)

const (
	defaultAnomalyScanInterval     = time.Hour
	defaultRetentionInterval       = 24 * time.Hour
	defaultDenyListRefreshInterval = 5 * time.Minute
)

// interval is a live-reloadable duration. Listeners get the current value on
// subscription and every change after that; slow listeners miss updates
// rather than block the writer.
type interval struct {
	mu        sync.Mutex
	value     time.Duration
	fallback  time.Duration
	listeners []chan time.Duration
}

var (
	anomalyScanInterval     = &interval{fallback: defaultAnomalyScanInterval}
	retentionInterval       = &interval{fallback: defaultRetentionInterval}
	denyListRefreshInterval = &interval{fallback: defaultDenyListRefreshInterval}
)

func (i *interval) get() time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.value <= 0 {
		return i.fallback
	}
	return i.value
}

func (i *interval) updates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)

	i.mu.Lock()
	i.listeners = append(i.listeners, ch)
	current := i.value
	if current <= 0 {
		current = i.fallback
	}
	i.mu.Unlock()

	ch <- current
	return ch
}

func (i *interval) set(d time.Duration) {
	if d <= 0 {
		d = i.fallback
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.value == d {
		return
	}
	i.value = d

	for _, ch := range i.listeners {
		select {
		case ch <- d:
		default:
		}
	}
}

func SetBetweenTime() {
	cfg := GetConfig()
	anomalyScanInterval.set(timerOrDefault(cfg.Anomaly.ScanTimer, defaultAnomalyScanInterval))
	retentionInterval.set(timerOrDefault(cfg.Retention.CleanupTimer, defaultRetentionInterval))
	denyListRefreshInterval.set(timerOrDefault(cfg.DenyList.RefreshTimer, defaultDenyListRefreshInterval))
}

// CalculateBetweenTime converts timer to a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfCheckingPeriod(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfCheckingPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func timerOrDefault(timer Timer, fallback time.Duration) time.Duration {
	if timer.IsZero() {
		return fallback
	}
	return CalculateBetweenTime(timer)
}

func GetAnomalyScanInterval() time.Duration {
	return anomalyScanInterval.get()
}

func AnomalyScanIntervalUpdates() <-chan time.Duration {
	return anomalyScanInterval.updates()
}

func GetRetentionInterval() time.Duration {
	return retentionInterval.get()
}

func RetentionIntervalUpdates() <-chan time.Duration {
	return retentionInterval.updates()
}

func GetDenyListRefreshInterval() time.Duration {
	return denyListRefreshInterval.get()
}

func DenyListRefreshIntervalUpdates() <-chan time.Duration {
	return denyListRefreshInterval.updates()
}
