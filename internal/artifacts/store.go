// Package artifacts persists generated content: blobs in an S3-compatible
// object store and owner-scoped linking rows in the database. Saves are
// two-phase (upload, then link) and deliberately not transactional; a row
// failure after a successful upload surfaces as *pipeline.PartialFailure so
// callers can warn instead of silently reporting success or total failure.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/creatorlab/socialstudio/backend/internal/pipeline"
)

var (
	errMissingBlobStore   = errors.New("artifacts: blob store is required")
	errMissingRecordStore = errors.New("artifacts: record store is required")
	errMissingIDProvider  = errors.New("artifacts: id provider is required")
	errMissingOwner       = errors.New("artifacts: owner id is required")
	noOpLogger            = zap.NewNop()
)

// IDProvider issues identifiers for artifact rows and blob keys.
type IDProvider interface {
	NewID() (string, error)
}

// RecordStore is the row side of artifact persistence.
type RecordStore interface {
	Create(ctx context.Context, record any) error
	ListByOwner(ctx context.Context, dest any, owner string) error
}

// GormRecordStore backs RecordStore with the application database.
type GormRecordStore struct {
	db *gorm.DB
}

// NewGormRecordStore wraps a database handle.
func NewGormRecordStore(db *gorm.DB) *GormRecordStore {
	return &GormRecordStore{db: db}
}

// Create inserts one row.
func (s *GormRecordStore) Create(ctx context.Context, record any) error {
	return s.db.WithContext(ctx).Create(record).Error
}

// ListByOwner fills dest with the owner's rows, newest first.
func (s *GormRecordStore) ListByOwner(ctx context.Context, dest any, owner string) error {
	return s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at_s DESC").
		Find(dest).Error
}

// StoreConfig describes the dependencies of the artifact store.
type StoreConfig struct {
	Blobs      BlobStore
	Records    RecordStore
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Store persists generated artifacts and lists them per owner.
type Store struct {
	blobs   BlobStore
	records RecordStore
	ids     IDProvider
	clock   func() time.Time
	logger  *zap.Logger
}

// NewStore constructs the artifact store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Blobs == nil {
		return nil, errMissingBlobStore
	}
	if cfg.Records == nil {
		return nil, errMissingRecordStore
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		blobs:   cfg.Blobs,
		records: cfg.Records,
		ids:     cfg.IDProvider,
		clock:   clock,
		logger:  logger,
	}, nil
}

var _ pipeline.ArtifactSaver = (*Store)(nil)

// SaveArtifact uploads the blob (when present), then creates the linking row
// with the owner and the blob's public URL. There is no compensating delete:
// a row failure after a successful upload leaves the blob orphaned and is
// reported as *pipeline.PartialFailure carrying the blob URL.
func (s *Store) SaveArtifact(ctx context.Context, req pipeline.SaveRequest) (pipeline.RecordRef, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return pipeline.RecordRef{}, &pipeline.StorageError{Op: "save_artifact", Err: errMissingOwner}
	}

	id, err := s.ids.NewID()
	if err != nil {
		return pipeline.RecordRef{}, &pipeline.StorageError{Op: "save_artifact.new_id", Err: err}
	}

	blobURL := ""
	if len(req.Bytes) > 0 {
		key := fmt.Sprintf("%s/%s%s", owner, id, extensionForMime(req.Mime))
		if err := s.blobs.Put(ctx, key, req.Bytes, req.Mime); err != nil {
			s.logger.Error("blob upload failed",
				zap.String("table", req.Table),
				zap.String("key", key),
				zap.Error(err))
			return pipeline.RecordRef{}, &pipeline.StorageError{Op: "save_artifact.put_blob", Err: err}
		}
		blobURL = s.blobs.URL(key)
	}

	record, err := s.buildRecord(req.Table, id, owner, blobURL, req.Fields)
	if err != nil {
		if blobURL != "" {
			return pipeline.RecordRef{}, &pipeline.PartialFailure{BlobURL: blobURL, Err: err}
		}
		return pipeline.RecordRef{}, &pipeline.StorageError{Op: "save_artifact.build_record", Err: err}
	}

	if err := s.records.Create(ctx, record); err != nil {
		s.logger.Error("record creation failed",
			zap.String("table", req.Table),
			zap.String("id", id),
			zap.Error(err))
		if blobURL != "" {
			return pipeline.RecordRef{}, &pipeline.PartialFailure{BlobURL: blobURL, Err: err}
		}
		return pipeline.RecordRef{}, &pipeline.StorageError{Op: "save_artifact.create_record", Err: err}
	}

	return pipeline.RecordRef{Table: req.Table, ID: id, URL: blobURL}, nil
}

func (s *Store) buildRecord(table, id, owner, blobURL string, fields map[string]any) (any, error) {
	createdAt := s.clock().UTC().Unix()

	switch table {
	case TableVideos:
		return &VideoAsset{
			ID:               id,
			Owner:            owner,
			FileName:         stringField(fields, "file_name"),
			VideoURL:         blobURL,
			CreatedAtSeconds: createdAt,
		}, nil
	case TableCaptions:
		videoID := stringField(fields, "video_id")
		if videoID == "" {
			return nil, fmt.Errorf("caption rows require a video_id field")
		}
		return &CaptionAsset{
			ID:               id,
			Owner:            owner,
			VideoID:          videoID,
			CaptionURL:       blobURL,
			CreatedAtSeconds: createdAt,
		}, nil
	case TableThumbnails:
		kind := stringField(fields, "kind")
		if kind == "" {
			kind = "thumbnail"
		}
		return &ThumbnailAsset{
			ID:               id,
			Owner:            owner,
			Kind:             kind,
			ThumbnailURL:     blobURL,
			CreatedAtSeconds: createdAt,
		}, nil
	case TableMetadata:
		hashtags, err := encodeHashtags(fields["hashtags"])
		if err != nil {
			return nil, err
		}
		return &MetadataRecord{
			ID:               id,
			Owner:            owner,
			Description:      stringField(fields, "description"),
			HashtagsJSON:     hashtags,
			CreatedAtSeconds: createdAt,
		}, nil
	default:
		return nil, fmt.Errorf("unknown artifact table %q", table)
	}
}

// CaptionBundle is the result of the two-artifact caption save.
type CaptionBundle struct {
	Video   pipeline.RecordRef
	Caption pipeline.RecordRef
}

// SaveCaptionBundle persists the caption flow's two artifacts in their
// required order: video blob, video row, transcript blob, caption row. If
// the video row fails, the caption save does not proceed; a caption row
// must never reference a video row that was not created.
func (s *Store) SaveCaptionBundle(ctx context.Context, owner, fileName string, video []byte, videoMime, transcript string) (CaptionBundle, error) {
	if strings.TrimSpace(transcript) == "" {
		return CaptionBundle{}, &pipeline.StorageError{Op: "save_captions", Err: errors.New("transcript is empty")}
	}
	if videoMime == "" {
		videoMime = "video/mp4"
	}

	videoRef, err := s.SaveArtifact(ctx, pipeline.SaveRequest{
		Bytes:  video,
		Mime:   videoMime,
		Table:  TableVideos,
		Fields: map[string]any{"file_name": fileName},
		Owner:  owner,
	})
	if err != nil {
		return CaptionBundle{}, err
	}

	captionRef, err := s.SaveArtifact(ctx, pipeline.SaveRequest{
		Bytes:  []byte(transcript),
		Mime:   "application/x-subrip",
		Table:  TableCaptions,
		Fields: map[string]any{"video_id": videoRef.ID},
		Owner:  owner,
	})
	if err != nil {
		return CaptionBundle{Video: videoRef}, err
	}

	return CaptionBundle{Video: videoRef, Caption: captionRef}, nil
}

// ListThumbnails returns the owner's saved thumbnails and logos, newest first.
func (s *Store) ListThumbnails(ctx context.Context, owner string) ([]ThumbnailAsset, error) {
	var rows []ThumbnailAsset
	if err := s.records.ListByOwner(ctx, &rows, owner); err != nil {
		return nil, &pipeline.StorageError{Op: "list_thumbnails", Err: err}
	}
	return rows, nil
}

// ListMetadata returns the owner's metadata records, newest first.
func (s *Store) ListMetadata(ctx context.Context, owner string) ([]MetadataRecord, error) {
	var rows []MetadataRecord
	if err := s.records.ListByOwner(ctx, &rows, owner); err != nil {
		return nil, &pipeline.StorageError{Op: "list_metadata", Err: err}
	}
	return rows, nil
}

// ListCaptions returns the owner's caption assets, newest first.
func (s *Store) ListCaptions(ctx context.Context, owner string) ([]CaptionAsset, error) {
	var rows []CaptionAsset
	if err := s.records.ListByOwner(ctx, &rows, owner); err != nil {
		return nil, &pipeline.StorageError{Op: "list_captions", Err: err}
	}
	return rows, nil
}

// Hashtags decodes a metadata record's JSON-encoded hashtag list.
func (r MetadataRecord) Hashtags() []string {
	var tags []string
	if err := json.Unmarshal([]byte(r.HashtagsJSON), &tags); err != nil {
		return nil
	}
	return tags
}

func stringField(fields map[string]any, name string) string {
	if fields == nil {
		return ""
	}
	if value, ok := fields[name].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func encodeHashtags(value any) (string, error) {
	if value == nil {
		return "[]", nil
	}
	var tags []string
	switch typed := value.(type) {
	case []string:
		tags = typed
	case []any:
		for _, item := range typed {
			text, ok := item.(string)
			if !ok {
				return "", fmt.Errorf("hashtags must be strings, got %T", item)
			}
			tags = append(tags, text)
		}
	default:
		return "", fmt.Errorf("hashtags must be a string array, got %T", value)
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func extensionForMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "application/x-subrip", "text/srt":
		return ".srt"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
