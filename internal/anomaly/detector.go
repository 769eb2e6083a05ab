// Package anomaly turns recorded request history into suspicious-IP flags.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/patcreator/alx-backend-security/internal/domain"
)

// ErrWindowRead aborts a run when the request window cannot be read.
var ErrWindowRead = errors.New("anomaly: read request window")

const (
	HeuristicVolume    = "volume"
	HeuristicSensitive = "sensitive_paths"
)

type ResolvePolicy string

const (
	// ResolveReopen clears the resolved flag on every re-detection.
	ResolveReopen ResolvePolicy = "reopen"
	// ResolveSticky keeps a record resolved when it was resolved during the
	// current window.
	ResolveSticky ResolvePolicy = "sticky"
)

type Settings struct {
	Window             time.Duration
	VolumeThreshold    int64
	SensitiveThreshold int64
	SensitivePaths     []string
	ResolvePolicy      ResolvePolicy
}

func DefaultSettings() Settings {
	return Settings{
		Window:             time.Hour,
		VolumeThreshold:    100,
		SensitiveThreshold: 5,
		SensitivePaths:     []string{"/admin/", "/login/", "/dashboard/"},
		ResolvePolicy:      ResolveReopen,
	}
}

func (s Settings) normalized() Settings {
	def := DefaultSettings()
	if s.Window <= 0 {
		s.Window = def.Window
	}
	if s.VolumeThreshold <= 0 {
		s.VolumeThreshold = def.VolumeThreshold
	}
	if s.SensitiveThreshold <= 0 {
		s.SensitiveThreshold = def.SensitiveThreshold
	}
	if s.ResolvePolicy != ResolveSticky {
		s.ResolvePolicy = ResolveReopen
	}
	return s
}

type LogReader interface {
	RequestWindow(ctx context.Context, since time.Time, sensitivePaths []string) (domain.RequestWindow, error)
}

type SuspicionWriter interface {
	UpsertSuspiciousIP(ctx context.Context, update domain.SuspicionUpdate) (bool, error)
}

type Observer interface {
	AnomalyFlagged(heuristic string)
	ObserveScan(duration time.Duration, failures int)
}

type Report struct {
	WindowStart      time.Time
	Flagged          int
	VolumeFlagged    int
	SensitiveFlagged int
	Created          int
	Failures         int
	Duration         time.Duration
}

func (r Report) Summary() string {
	return fmt.Sprintf("Anomaly detection complete. Found %d suspicious IPs.", r.Flagged)
}

type Detector struct {
	logs     LogReader
	flags    SuspicionWriter
	settings func() Settings
	now      func() time.Time
	observer Observer
}

type Option func(*Detector)

// WithSettingsSource makes every run read its thresholds from source.
func WithSettingsSource(source func() Settings) Option {
	return func(d *Detector) {
		if source != nil {
			d.settings = source
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(d *Detector) {
		d.observer = observer
	}
}

func NewDetector(logs LogReader, flags SuspicionWriter, opts ...Option) *Detector {
	d := &Detector{
		logs:     logs,
		flags:    flags,
		settings: DefaultSettings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run scans the trailing window once. High volume is checked first and
// sensitive-path access second, so the sensitive reason wins when both fire.
func (d *Detector) Run(ctx context.Context) (Report, error) {
	settings := d.settings().normalized()
	started := d.now()
	since := started.Add(-settings.Window)

	report := Report{WindowStart: since.UTC()}

	window, err := d.logs.RequestWindow(ctx, since, settings.SensitivePaths)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrWindowRead, err)
	}

	keepSince := time.Time{}
	if settings.ResolvePolicy == ResolveSticky {
		keepSince = since
	}

	flagged := make(map[string]struct{})
	upsert := func(ip, reason, heuristic string) {
		created, err := d.flags.UpsertSuspiciousIP(ctx, domain.SuspicionUpdate{
			ClientIP:          ip,
			Reason:            reason,
			DetectedAt:        started,
			KeepResolvedSince: keepSince,
		})
		if err != nil {
			report.Failures++
			log.Error("Failed to flag suspicious IP", "ip", ip, "heuristic", heuristic, "error", err)
			return
		}
		if created {
			report.Created++
		}
		flagged[ip] = struct{}{}
		if d.observer != nil {
			d.observer.AnomalyFlagged(heuristic)
		}
	}

	for _, ip := range sortedKeys(window.Volume) {
		count := window.Volume[ip]
		if count <= settings.VolumeThreshold {
			continue
		}
		report.VolumeFlagged++
		upsert(ip, volumeReason(count, settings.Window), HeuristicVolume)
	}

	for _, ip := range sortedKeys(window.Sensitive) {
		count := window.Sensitive[ip]
		if count < settings.SensitiveThreshold {
			continue
		}
		report.SensitiveFlagged++
		upsert(ip, fmt.Sprintf("Suspicious activity: accessed sensitive paths %d times", count), HeuristicSensitive)
	}

	report.Flagged = len(flagged)
	report.Duration = d.now().Sub(started)
	if d.observer != nil {
		d.observer.ObserveScan(report.Duration, report.Failures)
	}

	log.Info(report.Summary(),
		"window_start", report.WindowStart,
		"volume", report.VolumeFlagged,
		"sensitive", report.SensitiveFlagged,
		"created", report.Created,
		"failures", report.Failures,
	)
	return report, nil
}

func volumeReason(count int64, window time.Duration) string {
	span := "hour"
	if window != time.Hour {
		span = window.String()
	}
	return fmt.Sprintf("High request volume: %d requests in the last %s", count, span)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
