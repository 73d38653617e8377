package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"

	"delayboard/internal/domain"
	"delayboard/internal/store"
)

// snapshotRow is one line of an observation snapshot export. Numeric columns
// are read as text because exports write missing delays as "" or "NaN" and
// integers as "42.0".
type snapshotRow struct {
	TripID         string `csv:"TripID"`
	RouteShortName string `csv:"RouteShortName"`
	TripHeadsign   string `csv:"TripHeadsign"`
	StopName       string `csv:"StopName"`
	StopSequence   string `csv:"StopSequence"`
	DepartureTime  string `csv:"DepartureTime"`
	Timestamp      string `csv:"Timestamp"`
	ArrivalDelay   string `csv:"ArrivalDelay"`
	DepartureDelay string `csv:"DepartureDelay"`
}

// SnapshotSource serves observations from a CSV snapshot that is reloaded
// periodically. Time windows are anchored at the newest observation in the
// snapshot, not at wall-clock time.
type SnapshotSource struct {
	location       string
	store          *store.Store
	reloadInterval time.Duration
	httpClient     *http.Client
	logger         *slog.Logger

	mu          sync.Mutex
	fingerprint string
	ready       bool
}

// NewSnapshotSource creates a snapshot source reading from location, a file
// path or an http(s) URL.
func NewSnapshotSource(location string, reloadInterval time.Duration, logger *slog.Logger) *SnapshotSource {
	return &SnapshotSource{
		location:       location,
		store:          store.New(),
		reloadInterval: reloadInterval,
		httpClient:     &http.Client{Timeout: 2 * time.Minute},
		logger:         logger.With("component", "snapshot_source"),
	}
}

// Run reloads the snapshot until ctx is cancelled. A non-positive reload
// interval keeps the first load.
func (s *SnapshotSource) Run(ctx context.Context) {
	if s.reloadInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.reloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Load(ctx); err != nil {
				s.logger.Error("snapshot reload failed", "error", err)
			}
		}
	}
}

// Load reads the snapshot once. Unchanged content is not parsed again.
func (s *SnapshotSource) Load(ctx context.Context) error {
	start := time.Now()

	data, err := s.read(ctx)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	sum := sha256.Sum256(data)
	fingerprint := hex.EncodeToString(sum[:])

	s.mu.Lock()
	unchanged := fingerprint == s.fingerprint
	s.mu.Unlock()
	if unchanged {
		s.logger.Debug("snapshot unchanged", "sha256", fingerprint)
		return nil
	}

	observations, err := ParseSnapshot(bytes.NewReader(data), s.logger)
	if err != nil {
		return err
	}

	s.store.Replace(observations)

	s.mu.Lock()
	s.fingerprint = fingerprint
	s.ready = true
	s.mu.Unlock()

	s.logger.Info("snapshot loaded",
		"location", s.location,
		"observations", len(observations),
		"size_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// IsReady reports whether a snapshot has been loaded.
func (s *SnapshotSource) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *SnapshotSource) Stats() store.Stats {
	return s.store.GetStats()
}

func (s *SnapshotSource) FetchRecentObservations(_ context.Context, f domain.Filters, window time.Duration) ([]domain.DelayObservation, error) {
	return s.store.Query(f, Cutoff(s.store.Latest(), window)), nil
}

func (s *SnapshotSource) FetchDistinct(_ context.Context, field domain.Field, f domain.Filters, window time.Duration) ([]string, error) {
	return s.store.Distinct(field, f, Cutoff(s.store.Latest(), window)), nil
}

// LatestObservation always reports the snapshot's newest timestamp since
// windows are anchored there.
func (s *SnapshotSource) LatestObservation(_ context.Context, _ time.Duration) (time.Time, bool, error) {
	latest := s.store.Latest()
	return latest, !latest.IsZero(), nil
}

func (s *SnapshotSource) read(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(s.location, "http://") && !strings.HasPrefix(s.location, "https://") {
		return os.ReadFile(s.location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.location, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "delayboard/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ParseSnapshot decodes a CSV snapshot. Rows with an unreadable stop
// sequence or timestamp are skipped and logged.
func ParseSnapshot(r io.Reader, logger *slog.Logger) ([]domain.DelayObservation, error) {
	var rows []*snapshotRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}

	result := make([]domain.DelayObservation, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		o, err := row.toDomain()
		if err != nil {
			skipped++
			logger.Debug("skipping snapshot row", "trip_id", row.TripID, "stop_name", row.StopName, "error", err)
			continue
		}
		result = append(result, o)
	}

	if skipped > 0 {
		logger.Warn("snapshot rows skipped", "count", skipped, "total", len(rows))
	}
	return result, nil
}

func (r *snapshotRow) toDomain() (domain.DelayObservation, error) {
	seq, ok, err := parseNumber(r.StopSequence)
	if err != nil || !ok {
		return domain.DelayObservation{}, fmt.Errorf("stop sequence %q", r.StopSequence)
	}

	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(r.Timestamp))
	if err != nil {
		return domain.DelayObservation{}, fmt.Errorf("timestamp: %w", err)
	}

	o := domain.DelayObservation{
		TripID:                 r.TripID,
		RouteShortName:         r.RouteShortName,
		TripHeadsign:           r.TripHeadsign,
		StopName:               r.StopName,
		StopSequence:           seq,
		ScheduledDepartureTime: r.DepartureTime,
		Timestamp:              ts.UTC(),
	}

	if v, ok, err := parseNumber(r.ArrivalDelay); err == nil && ok {
		o.ArrivalDelay = domain.IntPtr(v)
	}
	if v, ok, err := parseNumber(r.DepartureDelay); err == nil && ok {
		o.DepartureDelay = domain.IntPtr(v)
	}
	return o, nil
}

// parseNumber reads integers written either as "42" or "42.0". Empty and
// NaN values report ok=false.
func parseNumber(s string) (int, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return 0, false, nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i, true, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	if math.IsNaN(f) {
		return 0, false, nil
	}
	return int(math.Round(f)), true, nil
}
