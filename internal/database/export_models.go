package database

import (
	"time"
)

// ExportStatus represents the lifecycle state of an export session record
type ExportStatus string

const (
	ExportStatusCreated   ExportStatus = "created"
	ExportStatusAnalyzing ExportStatus = "analyzing"
	ExportStatusCopyReady ExportStatus = "copy_ready"
	ExportStatusRendering ExportStatus = "rendering"
	ExportStatusEncoding  ExportStatus = "encoding"
	ExportStatusCompleted ExportStatus = "completed"
	ExportStatusFailed    ExportStatus = "failed"
)

// ExportSessionRecord is the persisted view of one export session. The
// live state lives in memory with the session; this record exists so a
// restarted process can report history and the cleanup sweep can find
// directories whose sessions are gone.
type ExportSessionRecord struct {
	ID            string       `json:"id" gorm:"primaryKey;type:varchar(128)"`
	Status        ExportStatus `json:"status" gorm:"type:varchar(32);not null;index"`
	Plan          string       `json:"plan,omitempty" gorm:"type:text"` // JSON string
	Reason        string       `json:"reason,omitempty" gorm:"type:varchar(512)"`
	WorkDir       string       `json:"-" gorm:"type:varchar(512)"`
	OutputPath    string       `json:"output_path,omitempty" gorm:"type:varchar(512)"`
	ErrorKind     string       `json:"error_kind,omitempty" gorm:"type:varchar(64)"`
	ErrorMessage  string       `json:"error_message,omitempty" gorm:"type:text"`
	FrameCount    int          `json:"frame_count"`
	FramesWritten int          `json:"frames_written"`
	SeekWarnings  int          `json:"seek_warnings"`
	Progress      int          `json:"progress"`
	StartTime     time.Time    `json:"start_time" gorm:"not null;index"`
	EndTime       *time.Time   `json:"end_time,omitempty"`
	LastAccessed  time.Time    `json:"last_accessed" gorm:"not null;index"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// TableName returns the table name for GORM
func (ExportSessionRecord) TableName() string {
	return "export_sessions"
}

// Terminal reports whether the record is in a final state
func (r *ExportSessionRecord) Terminal() bool {
	return r.Status == ExportStatusCompleted || r.Status == ExportStatusFailed
}
