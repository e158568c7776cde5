package session

// Status enumerates the session lifecycle states. A session starts active
// and reaches exactly one terminal state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// CallbackStatus tracks webhook delivery for a completed session.
type CallbackStatus string

const (
	CallbackPending CallbackStatus = "pending"
	CallbackSuccess CallbackStatus = "success"
	CallbackFailed  CallbackStatus = "failed"
)

// Session models a bounded-lifetime editing context against one source
// document.
type Session struct {
	ID         string `gorm:"column:id;primaryKey;size:36;not null"`
	DocumentID string `gorm:"column:document_id;size:36;not null;index:idx_sessions_document"`
	Token      string `gorm:"column:token;size:64;not null;uniqueIndex:uq_sessions_token"`
	Status     Status `gorm:"column:status;size:20;not null;default:'active';index:idx_sessions_status_expiry,priority:1"`

	CreatedAtSeconds      int64  `gorm:"column:created_at_s;not null"`
	ExpiresAtSeconds      int64  `gorm:"column:expires_at_s;not null;index:idx_sessions_status_expiry,priority:2"`
	LastActivityAtSeconds int64  `gorm:"column:last_activity_at_s;not null"`
	CompletedAtSeconds    *int64 `gorm:"column:completed_at_s"`

	OutputPath string `gorm:"column:output_path;size:500;not null;default:''"`
	OutputSize int64  `gorm:"column:output_size;not null;default:0"`

	CanEdit     bool `gorm:"column:can_edit;not null;default:true"`
	CanDownload bool `gorm:"column:can_download;not null;default:true"`

	CallbackURL    string         `gorm:"column:callback_url;size:500;not null;default:''"`
	CallbackStatus CallbackStatus `gorm:"column:callback_status;size:20;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "edit_sessions"
}

// Operation is one atomic, ordered edit intent in a session's log. Rows
// are immutable once created; undo deletes them, reset clears them.
type Operation struct {
	ID          string `gorm:"column:id;primaryKey;size:36;not null"`
	SessionID   string `gorm:"column:session_id;size:36;not null;uniqueIndex:uq_operations_session_seq,priority:1"`
	Seq         int64  `gorm:"column:seq;not null;uniqueIndex:uq_operations_session_seq,priority:2"`
	Kind        Kind   `gorm:"column:kind;size:50;not null"`
	PayloadJSON string `gorm:"column:payload_json;type:text;not null"`

	CreatedAtSeconds int64 `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Operation) TableName() string {
	return "edit_operations"
}

// Image is an uploaded raster asset scoped to one session.
type Image struct {
	ID               string `gorm:"column:id;primaryKey;size:36;not null"`
	SessionID        string `gorm:"column:session_id;size:36;not null;index:idx_images_session"`
	OriginalFilename string `gorm:"column:original_filename;size:255;not null"`
	StoredFilename   string `gorm:"column:stored_filename;size:255;not null"`
	FilePath         string `gorm:"column:file_path;size:500;not null"`
	FileSize         int64  `gorm:"column:file_size;not null"`
	MimeType         string `gorm:"column:mime_type;size:50;not null"`
	Width            int    `gorm:"column:width;not null;default:0"`
	Height           int    `gorm:"column:height;not null;default:0"`

	UploadedAtSeconds int64 `gorm:"column:uploaded_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Image) TableName() string {
	return "session_images"
}
