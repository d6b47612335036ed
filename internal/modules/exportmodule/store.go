package exportmodule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/exportra/internal/database"
)

// ExportStore persists export session records. A nil-db store is a no-op
// so the pipeline can run without persistence (one-shot CLI exports).
type ExportStore struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewExportStore creates a session record store.
func NewExportStore(db *gorm.DB, logger hclog.Logger) *ExportStore {
	return &ExportStore{
		db:     db,
		logger: logger.Named("export-store"),
	}
}

// CreateRecord inserts the initial record for a session.
func (s *ExportStore) CreateRecord(session *ExportSession) error {
	if s.db == nil {
		return nil
	}
	record := &database.ExportSessionRecord{
		ID:           session.ID,
		Status:       database.ExportStatusCreated,
		WorkDir:      session.workDir,
		StartTime:    session.startTime,
		LastAccessed: time.Now(),
	}
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

// UpdateState records a lifecycle transition.
func (s *ExportStore) UpdateState(sessionID string, state SessionState) {
	if s.db == nil {
		return
	}
	err := s.db.Model(&database.ExportSessionRecord{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":        statusFor(state),
			"last_accessed": time.Now(),
		}).Error
	if err != nil {
		s.logger.Warn("failed to update session state", "session_id", sessionID, "error", err)
	}
}

// SetPlan persists the resolved plan alongside the record.
func (s *ExportStore) SetPlan(sessionID string, plan *ExportPlan) {
	if s.db == nil {
		return
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		s.logger.Warn("failed to serialize plan", "session_id", sessionID, "error", err)
		return
	}
	err = s.db.Model(&database.ExportSessionRecord{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"plan":          string(planJSON),
			"reason":        plan.Reason,
			"last_accessed": time.Now(),
		}).Error
	if err != nil {
		s.logger.Warn("failed to persist plan", "session_id", sessionID, "error", err)
	}
}

// SetProgress records the last reported percent.
func (s *ExportStore) SetProgress(sessionID string, percent int) {
	if s.db == nil {
		return
	}
	err := s.db.Model(&database.ExportSessionRecord{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"progress":      percent,
			"last_accessed": time.Now(),
		}).Error
	if err != nil {
		s.logger.Warn("failed to persist progress", "session_id", sessionID, "error", err)
	}
}

// MarkCompleted finalizes a successful record.
func (s *ExportStore) MarkCompleted(sessionID string, result *ExportResult) {
	if s.db == nil {
		return
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":         database.ExportStatusCompleted,
		"progress":       100,
		"frame_count":    result.FrameCount,
		"frames_written": result.FramesWritten,
		"seek_warnings":  result.SeekWarnings,
		"end_time":       &now,
		"last_accessed":  now,
	}
	if result.Output != nil {
		updates["output_path"] = result.Output.Path
	}
	err := s.db.Model(&database.ExportSessionRecord{}).
		Where("id = ?", sessionID).
		Updates(updates).Error
	if err != nil {
		s.logger.Warn("failed to mark session completed", "session_id", sessionID, "error", err)
	}
}

// MarkFailed finalizes a failed record with the error kind and message.
func (s *ExportStore) MarkFailed(sessionID, errorKind, errorMessage string) {
	if s.db == nil {
		return
	}
	now := time.Now()
	err := s.db.Model(&database.ExportSessionRecord{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":        database.ExportStatusFailed,
			"error_kind":    errorKind,
			"error_message": errorMessage,
			"end_time":      &now,
			"last_accessed": now,
		}).Error
	if err != nil {
		s.logger.Warn("failed to mark session failed", "session_id", sessionID, "error", err)
	}
}

// GetRecord fetches one session record.
func (s *ExportStore) GetRecord(sessionID string) (*database.ExportSessionRecord, error) {
	if s.db == nil {
		return nil, gorm.ErrRecordNotFound
	}
	var record database.ExportSessionRecord
	if err := s.db.First(&record, "id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRecords returns the most recent session records.
func (s *ExportStore) ListRecords(limit int) ([]database.ExportSessionRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var records []database.ExportSessionRecord
	err := s.db.Order("start_time DESC").Limit(limit).Find(&records).Error
	return records, err
}

// MarkStaleRunning fails every non-terminal record at startup. Records
// left running by a crashed process can never complete; their directories
// are reclaimed by the cleanup sweep.
func (s *ExportStore) MarkStaleRunning() (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	now := time.Now()
	res := s.db.Model(&database.ExportSessionRecord{}).
		Where("status NOT IN ?", []database.ExportStatus{database.ExportStatusCompleted, database.ExportStatusFailed}).
		Updates(map[string]interface{}{
			"status":        database.ExportStatusFailed,
			"error_kind":    "stale",
			"error_message": "process restarted while export was in flight",
			"end_time":      &now,
		})
	return res.RowsAffected, res.Error
}

// HasActiveRecord reports whether a non-terminal record exists for the id.
func (s *ExportStore) HasActiveRecord(sessionID string) bool {
	record, err := s.GetRecord(sessionID)
	if err != nil {
		return false
	}
	return !record.Terminal()
}

// CleanupExpired deletes terminal records older than the retention window.
func (s *ExportStore) CleanupExpired(retention time.Duration) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention)
	res := s.db.
		Where("status IN ?", []database.ExportStatus{database.ExportStatusCompleted, database.ExportStatusFailed}).
		Where("last_accessed < ?", cutoff).
		Delete(&database.ExportSessionRecord{})
	return res.RowsAffected, res.Error
}

func statusFor(state SessionState) database.ExportStatus {
	switch state {
	case StateCreated:
		return database.ExportStatusCreated
	case StateAnalyzing:
		return database.ExportStatusAnalyzing
	case StateCopyReady:
		return database.ExportStatusCopyReady
	case StateRendering:
		return database.ExportStatusRendering
	case StateEncoding:
		return database.ExportStatusEncoding
	case StateCompleted:
		return database.ExportStatusCompleted
	default:
		return database.ExportStatusFailed
	}
}
