package service

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/btimofeyev/tutor-ai-sub003/internal/scheduler"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/export"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type datasetRenderer interface {
	Render(format export.Format, data export.Dataset, title string) ([]byte, error)
}

var scheduleHeaders = []string{"date", "start", "minutes", "subject", "material_id", "status", "cognitive_match", "reasoning"}

// ExportResult lists the files written for one schedule.
type ExportResult struct {
	LearnerID string
	Files     []string
}

// ScheduleExportService renders schedules and stores them as CSV, PDF and XLSX files.
type ScheduleExportService struct {
	storage  fileStorage
	renderer datasetRenderer
	formats  []export.Format
	logger   *zap.Logger
	now      func() time.Time
}

// NewScheduleExportService constructs the exporter. A nil renderer uses pkg/export.
func NewScheduleExportService(storage fileStorage, renderer datasetRenderer, logger *zap.Logger) *ScheduleExportService {
	if renderer == nil {
		renderer = export.NewRenderer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleExportService{
		storage:  storage,
		renderer: renderer,
		formats:  export.Formats,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Export writes schedule in every format under dir.
func (s *ScheduleExportService) Export(dir string, schedule scheduler.ScheduleResult) (*ExportResult, error) {
	dataset := ScheduleDataset(schedule)
	title := fmt.Sprintf("Study plan for %s", schedule.LearnerID)
	base := fmt.Sprintf("%s_%s", sanitizeFilename(schedule.LearnerID), s.now().Format("20060102_150405"))

	result := &ExportResult{LearnerID: schedule.LearnerID}
	for _, format := range s.formats {
		payload, err := s.renderer.Render(format, dataset, title)
		if err != nil {
			return result, fmt.Errorf("render %s for %s: %w", format, schedule.LearnerID, err)
		}
		name := fmt.Sprintf("%s.%s", base, format)
		if dir != "" {
			name = sanitizeFilename(dir) + "/" + name
		}
		rel, err := s.storage.Save(name, payload)
		if err != nil {
			return result, err
		}
		result.Files = append(result.Files, rel)
	}
	s.logger.Debug("schedule exported", zap.String("learner_id", schedule.LearnerID), zap.Strings("files", result.Files))
	return result, nil
}

// Cleanup removes exports older than ttl.
func (s *ScheduleExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		return nil, nil
	}
	return s.storage.CleanupOlderThan(ttl)
}

// ScheduleDataset flattens a schedule into export rows with metadata notes.
func ScheduleDataset(schedule scheduler.ScheduleResult) export.Dataset {
	rows := make([]map[string]string, 0, len(schedule.Sessions))
	for _, session := range schedule.Sessions {
		material := ""
		if session.MaterialID != nil {
			material = *session.MaterialID
		}
		rows = append(rows, map[string]string{
			"date":            session.DateKey(),
			"start":           session.StartTime,
			"minutes":         strconv.Itoa(session.DurationMinutes),
			"subject":         session.SubjectName,
			"material_id":     material,
			"status":          string(session.Status),
			"cognitive_match": strconv.FormatFloat(session.CognitiveMatch, 'f', 2, 64),
			"reasoning":       session.Reasoning,
		})
	}

	meta := schedule.Metadata
	notes := []string{
		fmt.Sprintf("generator: %s (confidence %.2f)", meta.Generator, meta.Confidence),
		fmt.Sprintf("sessions: %d, minutes: %d", meta.TotalSessions, meta.TotalMinutes),
	}
	if len(meta.UnscheduledItems) > 0 {
		notes = append(notes, "unscheduled: "+strings.Join(meta.UnscheduledItems, ", "))
	}
	if len(meta.OverloadedDates) > 0 {
		notes = append(notes, "over daily limit: "+strings.Join(meta.OverloadedDates, ", "))
	}
	return export.Dataset{Headers: scheduleHeaders, Rows: rows, Notes: notes}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
