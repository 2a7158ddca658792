package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/synoptiq/go-tractus"
)

// This example persists tracker measurements into SQLite through a custom
// MetricsCollector, then reports the slowest step types. The same pattern
// fits any sql.DB-backed sink.

// --- 1. The archive repository ---

type MeasurementArchive struct {
	db *sql.DB
}

func NewMeasurementArchive(db *sql.DB) *MeasurementArchive {
	if db == nil {
		panic("sql.DB cannot be nil")
	}
	return &MeasurementArchive{db: db}
}

func (a *MeasurementArchive) Init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS step_measurements (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		step_type   TEXT    NOT NULL,
		duration_ms REAL    NOT NULL,
		failed      INTEGER NOT NULL,
		recorded_at TEXT    NOT NULL
	);
	CREATE TABLE IF NOT EXISTS journey_measurements (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		duration_ms REAL    NOT NULL,
		recorded_at TEXT    NOT NULL
	);`
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating archive schema: %w", err)
	}
	return nil
}

func (a *MeasurementArchive) RecordStep(ctx context.Context, stepType string, duration time.Duration, failed bool) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO step_measurements (step_type, duration_ms, failed, recorded_at) VALUES (?, ?, ?, ?)",
		stepType, float64(duration.Microseconds())/1000.0, failed, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (a *MeasurementArchive) RecordJourney(ctx context.Context, duration time.Duration) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO journey_measurements (duration_ms, recorded_at) VALUES (?, ?)",
		float64(duration.Microseconds())/1000.0, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

type StepStat struct {
	StepType string
	Count    int
	AvgMs    float64
	Failures int
}

func (a *MeasurementArchive) SlowestSteps(ctx context.Context, limit int) ([]StepStat, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT step_type, COUNT(*), AVG(duration_ms), SUM(failed)
		FROM step_measurements
		GROUP BY step_type
		ORDER BY AVG(duration_ms) DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying step stats: %w", err)
	}
	defer rows.Close()

	var stats []StepStat
	for rows.Next() {
		var s StepStat
		if err := rows.Scan(&s.StepType, &s.Count, &s.AvgMs, &s.Failures); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// --- 2. The archiving collector ---

// ArchivingCollector embeds the no-op collector and overrides only the
// measurements worth persisting. Write errors are logged, never propagated:
// a broken archive must not disturb span tracking.
type ArchivingCollector struct {
	tractus.NoopMetricsCollector
	archive *MeasurementArchive
	logger  *log.Logger
}

func NewArchivingCollector(archive *MeasurementArchive, logger *log.Logger) *ArchivingCollector {
	return &ArchivingCollector{archive: archive, logger: logger}
}

func (c *ArchivingCollector) SpanEnded(ctx context.Context, stepType string, duration time.Duration, failed bool) {
	if err := c.archive.RecordStep(ctx, stepType, duration, failed); err != nil {
		c.logger.Printf("archive step write failed: %v", err)
	}
}

func (c *ArchivingCollector) EntryCompleted(ctx context.Context, duration time.Duration) {
	if err := c.archive.RecordJourney(ctx, duration); err != nil {
		c.logger.Printf("archive journey write failed: %v", err)
	}
}

var _ tractus.MetricsCollector = (*ArchivingCollector)(nil)

// --- 3. Drive a tracker through a few journeys ---

func main() {
	ctx := context.Background()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("sqlite3", "file:archive_demo?mode=memory&cache=shared")
	if err != nil {
		logger.Fatalf("❌ open database: %v", err)
	}
	defer db.Close()

	archive := NewMeasurementArchive(db)
	if err := archive.Init(ctx); err != nil {
		logger.Fatalf("❌ init schema: %v", err)
	}

	tracker := tractus.NewTracker(
		tractus.WithMetricsCollector(NewArchivingCollector(archive, logger)),
	)
	defer func() { _ = tracker.Stop(context.Background()) }()

	fmt.Println("🗄️  Recording journeys into SQLite...")
	steps := []tractus.Step{
		{ID: "s1", Type: tractus.StepHTTPIn, Name: "ingress", Flow: "f1"},
		{ID: "s2", Type: tractus.StepHTTPRequest, Name: "lookup", Flow: "f1"},
		{ID: "s3", Type: tractus.StepAMQPOut, Name: "publish", Flow: "f1"},
	}

	for i := 0; i < 5; i++ {
		msg := tractus.NewMessage(map[string]any{"n": i})
		for _, step := range steps {
			tracker.CreateSpan(ctx, msg, step, false)
		}
		time.Sleep(2 * time.Millisecond)
		for j, step := range steps {
			var fault error
			if i == 3 && j == 1 {
				fault = errors.New("upstream timed out")
			}
			tracker.EndSpan(ctx, msg, fault, step)
		}
	}

	// --- 4. Report ---

	stats, err := archive.SlowestSteps(ctx, 10)
	if err != nil {
		logger.Fatalf("❌ stats query: %v", err)
	}
	fmt.Println("📊 Step types by average duration:")
	for _, s := range stats {
		fmt.Printf("   %-14s count=%d avg=%.2fms failures=%d\n", s.StepType, s.Count, s.AvgMs, s.Failures)
	}
	fmt.Println("✅ Done.")
}
