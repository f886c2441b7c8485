package artifacts

// Table names the store persists into. Every row carries exactly one owner
// and is immutable once created; "editing" an artifact always produces a new
// row. Deletion is not supported here at all.
const (
	TableVideos     = "video_assets"
	TableCaptions   = "caption_assets"
	TableThumbnails = "thumbnail_assets"
	TableMetadata   = "metadata_records"
)

// VideoAsset is created when a video is uploaded for caption generation.
type VideoAsset struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Owner            string `gorm:"column:owner;size:190;not null;index"`
	FileName         string `gorm:"column:file_name;size:320;not null"`
	VideoURL         string `gorm:"column:video_url;size:1024;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (VideoAsset) TableName() string {
	return TableVideos
}

// CaptionAsset links a generated SRT transcript to its source video. The
// video reference is non-owning; rows are only ever written after the
// referenced VideoAsset row exists.
type CaptionAsset struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Owner            string `gorm:"column:owner;size:190;not null;index"`
	VideoID          string `gorm:"column:video_id;size:190;not null"`
	CaptionURL       string `gorm:"column:caption_url;size:1024;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CaptionAsset) TableName() string {
	return TableCaptions
}

// ThumbnailAsset is a saved generated image. Kind distinguishes thumbnails
// from logos; both share the explicit-save flow.
type ThumbnailAsset struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Owner            string `gorm:"column:owner;size:190;not null;index"`
	Kind             string `gorm:"column:kind;size:32;not null;default:'thumbnail'"`
	ThumbnailURL     string `gorm:"column:thumbnail_url;size:1024;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ThumbnailAsset) TableName() string {
	return TableThumbnails
}

// MetadataRecord stores a generated video description plus hashtags.
// Hashtags are kept as a JSON-encoded string array.
type MetadataRecord struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Owner            string `gorm:"column:owner;size:190;not null;index"`
	Description      string `gorm:"column:description;type:text;not null"`
	HashtagsJSON     string `gorm:"column:hashtags_json;type:text;not null;default:'[]'"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MetadataRecord) TableName() string {
	return TableMetadata
}
