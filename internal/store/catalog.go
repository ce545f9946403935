package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mediavault/internal/models"
)

var ErrVideoNotFound = errors.New("video not found")

// UpsertVideo inserts or fully replaces the row identified by VideoUID.
// Assets are managed separately via ReplaceAssets.
func (s *Store) UpsertVideo(ctx context.Context, video models.Video) error {
	row, err := videoToRow(video)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_uid"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// ReplaceAssets swaps the full asset list of a video in one transaction.
func (s *Store) ReplaceAssets(ctx context.Context, videoUID string, assets []models.Asset) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_uid = ?", videoUID).Delete(&assetRow{}).Error; err != nil {
			return err
		}
		if len(assets) == 0 {
			return nil
		}
		rows := make([]assetRow, 0, len(assets))
		for _, a := range assets {
			rows = append(rows, assetToRow(videoUID, a))
		}
		return tx.Create(&rows).Error
	})
}

// DeleteVideo removes a video and, via the FK cascade, its assets. The bool
// reports whether a row existed.
func (s *Store) DeleteVideo(ctx context.Context, videoUID string) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_uid = ?", videoUID).Delete(&assetRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("video_uid = ?", videoUID).Delete(&videoRow{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// ClearOrigin wipes every video (and its assets) belonging to one origin.
func (s *Store) ClearOrigin(ctx context.Context, origin models.Origin) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`DELETE FROM assets WHERE video_uid IN (SELECT video_uid FROM videos WHERE origin = ?)`,
			string(origin),
		).Error; err != nil {
			return err
		}
		return tx.Where("origin = ?", string(origin)).Delete(&videoRow{}).Error
	})
}

// ListVideos pages through the catalog ordered by modified_at DESC. A nil
// origin lists both origins.
func (s *Store) ListVideos(ctx context.Context, origin *models.Origin, page, limit int) (models.VideoListResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	q := s.db.WithContext(ctx).Model(&videoRow{})
	if origin != nil {
		q = q.Where("origin = ?", string(*origin))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return models.VideoListResponse{}, err
	}

	var rows []videoRow
	if err := q.Order("modified_at DESC, video_uid DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return models.VideoListResponse{}, err
	}

	items := make([]models.Video, 0, len(rows))
	for _, row := range rows {
		video, err := rowToVideo(row)
		if err != nil {
			// Skip rows with unreadable extras instead of failing the page.
			continue
		}
		items = append(items, video)
	}
	if err := s.attachAssets(ctx, items); err != nil {
		return models.VideoListResponse{}, err
	}

	return models.VideoListResponse{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// ListVideosByOrigin returns the whole slice of one origin with assets,
// ordered by video_uid for stable snapshot output.
func (s *Store) ListVideosByOrigin(ctx context.Context, origin models.Origin) ([]models.Video, error) {
	var rows []videoRow
	if err := s.db.WithContext(ctx).
		Where("origin = ?", string(origin)).
		Order("video_uid ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]models.Video, 0, len(rows))
	for _, row := range rows {
		video, err := rowToVideo(row)
		if err != nil {
			return nil, fmt.Errorf("decode video %s: %w", row.VideoUID, err)
		}
		items = append(items, video)
	}
	if err := s.attachAssets(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetVideo(ctx context.Context, videoUID string) (models.Video, error) {
	var row videoRow
	err := s.db.WithContext(ctx).Where("video_uid = ?", videoUID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Video{}, ErrVideoNotFound
	}
	if err != nil {
		return models.Video{}, err
	}
	video, err := rowToVideo(row)
	if err != nil {
		return models.Video{}, err
	}
	items := []models.Video{video}
	if err := s.attachAssets(ctx, items); err != nil {
		return models.Video{}, err
	}
	return items[0], nil
}

// GetVideoByDriveFileID resolves the video owning an asset with the given
// remote file id.
func (s *Store) GetVideoByDriveFileID(ctx context.Context, driveFileID string) (models.Video, error) {
	var asset assetRow
	err := s.db.WithContext(ctx).Where("drive_file_id = ?", driveFileID).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Video{}, ErrVideoNotFound
	}
	if err != nil {
		return models.Video{}, err
	}
	return s.GetVideo(ctx, asset.VideoUID)
}

func (s *Store) CountVideosByOrigin(ctx context.Context, origin models.Origin) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&videoRow{}).
		Where("origin = ?", string(origin)).
		Count(&total).Error
	return total, err
}

// UpdateAssetDriveFileID records the remote file id after a successful upload.
func (s *Store) UpdateAssetDriveFileID(ctx context.Context, assetID, driveFileID string) error {
	res := s.db.WithContext(ctx).Model(&assetRow{}).
		Where("id = ?", assetID).
		Update("drive_file_id", driveFileID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("asset %s not found", assetID)
	}
	return nil
}

func (s *Store) GetCatalogState(ctx context.Context, origin models.Origin) (models.CatalogState, error) {
	var row catalogStateRow
	err := s.db.WithContext(ctx).Where("origin = ?", string(origin)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CatalogState{Origin: origin}, nil
	}
	if err != nil {
		return models.CatalogState{}, err
	}
	return models.CatalogState{
		Origin:             models.Origin(row.Origin),
		LastImportedAt:     row.LastImportedAt,
		LastPublishedAt:    row.LastPublishedAt,
		DriveCatalogFileID: row.DriveCatalogFileID,
		Revision:           row.Revision,
	}, nil
}

func (s *Store) SetCatalogState(ctx context.Context, state models.CatalogState) error {
	row := catalogStateRow{
		Origin:             string(state.Origin),
		LastImportedAt:     state.LastImportedAt,
		LastPublishedAt:    state.LastPublishedAt,
		DriveCatalogFileID: state.DriveCatalogFileID,
		Revision:           state.Revision,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "origin"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// GetLastPublishedHash returns the content hash stored by the last publish,
// empty when none.
func (s *Store) GetLastPublishedHash(ctx context.Context, origin models.Origin) (string, error) {
	var row catalogStateRow
	err := s.db.WithContext(ctx).Where("origin = ?", string(origin)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if row.LastPublishedHash == nil {
		return "", nil
	}
	return *row.LastPublishedHash, nil
}

func (s *Store) SetLastPublishedHash(ctx context.Context, origin models.Origin, hash string) error {
	return s.db.WithContext(ctx).Model(&catalogStateRow{}).
		Where("origin = ?", string(origin)).
		Update("last_published_hash", hash).Error
}

func (s *Store) attachAssets(ctx context.Context, videos []models.Video) error {
	if len(videos) == 0 {
		return nil
	}
	uids := make([]string, 0, len(videos))
	for _, v := range videos {
		uids = append(uids, v.VideoUID)
	}
	var rows []assetRow
	if err := s.db.WithContext(ctx).
		Where("video_uid IN ?", uids).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return err
	}
	byVideo := make(map[string][]models.Asset, len(videos))
	for _, row := range rows {
		byVideo[row.VideoUID] = append(byVideo[row.VideoUID], rowToAsset(row))
	}
	for i := range videos {
		videos[i].Assets = byVideo[videos[i].VideoUID]
	}
	return nil
}

func videoToRow(video models.Video) (videoRow, error) {
	row := videoRow{
		VideoUID:        video.VideoUID,
		Origin:          string(video.Origin),
		Source:          video.Source,
		Title:           video.Title,
		Channel:         video.Channel,
		DurationSeconds: video.DurationSeconds,
		CreatedAt:       video.CreatedAt,
		ModifiedAt:      video.ModifiedAt,
		Status:          string(video.Status),
	}
	if row.Status == "" {
		row.Status = string(models.VideoStatusAvailable)
	}
	if !video.Extra.IsZero() {
		raw, err := json.Marshal(video.Extra)
		if err != nil {
			return videoRow{}, fmt.Errorf("encode extras for %s: %w", video.VideoUID, err)
		}
		s := string(raw)
		row.ExtraJSON = &s
	}
	return row, nil
}

func rowToVideo(row videoRow) (models.Video, error) {
	video := models.Video{
		VideoUID:        row.VideoUID,
		Origin:          models.Origin(row.Origin),
		Source:          row.Source,
		Title:           row.Title,
		Channel:         row.Channel,
		DurationSeconds: row.DurationSeconds,
		CreatedAt:       row.CreatedAt,
		ModifiedAt:      row.ModifiedAt,
		Status:          models.VideoStatus(row.Status),
	}
	if row.ExtraJSON != nil && *row.ExtraJSON != "" {
		if err := json.Unmarshal([]byte(*row.ExtraJSON), &video.Extra); err != nil {
			return models.Video{}, err
		}
	}
	return video, nil
}

func assetToRow(videoUID string, a models.Asset) assetRow {
	return assetRow{
		ID:          a.ID,
		VideoUID:    videoUID,
		Kind:        string(a.Kind),
		LocalPath:   a.LocalPath,
		DriveFileID: a.DriveFileID,
		MimeType:    a.MimeType,
		SizeBytes:   a.SizeBytes,
		Hash:        a.Hash,
	}
}

func rowToAsset(row assetRow) models.Asset {
	return models.Asset{
		ID:          row.ID,
		VideoUID:    row.VideoUID,
		Kind:        models.AssetKind(row.Kind),
		LocalPath:   row.LocalPath,
		DriveFileID: row.DriveFileID,
		MimeType:    row.MimeType,
		SizeBytes:   row.SizeBytes,
		Hash:        row.Hash,
	}
}
