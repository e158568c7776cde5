package document

// Document models an uploaded source PDF. The stored bytes are immutable
// once registered; edits never rewrite them.
type Document struct {
	ID               string `gorm:"column:id;primaryKey;size:36;not null"`
	Filename         string `gorm:"column:filename;size:255;not null"`
	OriginalFilename string `gorm:"column:original_filename;size:255;not null"`
	FilePath         string `gorm:"column:file_path;size:500;not null"`
	FileSize         int64  `gorm:"column:file_size;not null"`
	PageCount        int    `gorm:"column:page_count;not null"`
	MimeType         string `gorm:"column:mime_type;size:50;not null;default:'application/pdf'"`

	UploadedAtSeconds int64 `gorm:"column:uploaded_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}
