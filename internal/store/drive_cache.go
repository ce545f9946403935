package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mediavault/internal/models"
)

const insertBatchSize = 200

// ReplaceDriveFiles wipes the remote-listing cache and repopulates it from a
// full listing in one transaction.
func (s *Store) ReplaceDriveFiles(ctx context.Context, files []models.DriveFile) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&driveFileRow{}).Error; err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}
		rows := make([]driveFileRow, 0, len(files))
		for _, f := range files {
			rows = append(rows, driveFileToRow(f))
		}
		return tx.CreateInBatches(&rows, insertBatchSize).Error
	})
}

// UpsertDriveFiles inserts or refreshes cache entries by drive id. An upsert
// resurrects a soft-deleted entry.
func (s *Store) UpsertDriveFiles(ctx context.Context, files []models.DriveFile) error {
	if len(files) == 0 {
		return nil
	}
	rows := make([]driveFileRow, 0, len(files))
	for _, f := range files {
		rows = append(rows, driveFileToRow(f))
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "drive_id"}},
		UpdateAll: true,
	}).CreateInBatches(&rows, insertBatchSize).Error
}

// MarkDriveFilesDeleted soft-deletes the given ids and returns how many rows
// actually flipped.
func (s *Store) MarkDriveFilesDeleted(ctx context.Context, driveIDs []string, at string) (int64, error) {
	if len(driveIDs) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&driveFileRow{}).
		Where("drive_id IN ? AND is_deleted = 0", driveIDs).
		Updates(map[string]any{"is_deleted": 1, "cached_at": at})
	return res.RowsAffected, res.Error
}

func (s *Store) ListDriveFiles(ctx context.Context, includeDeleted bool) ([]models.DriveFile, error) {
	q := s.db.WithContext(ctx).Model(&driveFileRow{})
	if !includeDeleted {
		q = q.Where("is_deleted = 0")
	}
	var rows []driveFileRow
	if err := q.Order("drive_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	files := make([]models.DriveFile, 0, len(rows))
	for _, row := range rows {
		files = append(files, rowToDriveFile(row))
	}
	return files, nil
}

// PurgeDeleted hard-removes soft-deleted cache entries.
func (s *Store) PurgeDeleted(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("is_deleted = 1").Delete(&driveFileRow{})
	return res.RowsAffected, res.Error
}

func (s *Store) ReplaceDriveFolders(ctx context.Context, folders []models.DriveFolder) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&driveFolderRow{}).Error; err != nil {
			return err
		}
		if len(folders) == 0 {
			return nil
		}
		rows := make([]driveFolderRow, 0, len(folders))
		for _, f := range folders {
			rows = append(rows, driveFolderRow{
				FolderID: f.FolderID,
				Name:     f.Name,
				ParentID: f.ParentID,
				Path:     f.Path,
				CachedAt: f.CachedAt,
			})
		}
		return tx.CreateInBatches(&rows, insertBatchSize).Error
	})
}

func (s *Store) ListDriveFolders(ctx context.Context) ([]models.DriveFolder, error) {
	var rows []driveFolderRow
	if err := s.db.WithContext(ctx).Order("path ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	folders := make([]models.DriveFolder, 0, len(rows))
	for _, row := range rows {
		folders = append(folders, models.DriveFolder{
			FolderID: row.FolderID,
			Name:     row.Name,
			ParentID: row.ParentID,
			Path:     row.Path,
			CachedAt: row.CachedAt,
		})
	}
	return folders, nil
}

// TrySetSyncInProgress atomically claims the sync flag. It returns false when
// another sync already holds it.
func (s *Store) TrySetSyncInProgress(ctx context.Context) (bool, error) {
	res := s.db.WithContext(ctx).Model(&syncStateRow{}).
		Where("key = ? AND sync_in_progress = 0", syncStateKey).
		Update("sync_in_progress", 1)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClearSyncInProgress drops the flag unconditionally. Also serves as the
// operator escape hatch after a crash left it stuck.
func (s *Store) ClearSyncInProgress(ctx context.Context) error {
	return s.db.WithContext(ctx).Model(&syncStateRow{}).
		Where("key = ?", syncStateKey).
		Update("sync_in_progress", 0).Error
}

type SyncAggregates struct {
	TotalVideos           int64
	TotalSizeBytes        int64
	LastFullSyncAt        *string
	LastIncrementalSyncAt *string
}

// UpdateSyncAggregates writes the post-sync bookkeeping. Nil timestamps keep
// their stored value.
func (s *Store) UpdateSyncAggregates(ctx context.Context, agg SyncAggregates) error {
	updates := map[string]any{
		"total_videos":     agg.TotalVideos,
		"total_size_bytes": agg.TotalSizeBytes,
	}
	if agg.LastFullSyncAt != nil {
		updates["last_full_sync_at"] = *agg.LastFullSyncAt
	}
	if agg.LastIncrementalSyncAt != nil {
		updates["last_incremental_sync_at"] = *agg.LastIncrementalSyncAt
	}
	return s.db.WithContext(ctx).Model(&syncStateRow{}).
		Where("key = ?", syncStateKey).
		Updates(updates).Error
}

func (s *Store) GetSyncState(ctx context.Context) (models.CacheStats, error) {
	var row syncStateRow
	if err := s.db.WithContext(ctx).Where("key = ?", syncStateKey).First(&row).Error; err != nil {
		return models.CacheStats{}, err
	}
	return models.CacheStats{
		TotalVideos:           row.TotalVideos,
		TotalSizeBytes:        row.TotalSizeBytes,
		SyncInProgress:        row.SyncInProgress != 0,
		LastFullSyncAt:        row.LastFullSyncAt,
		LastIncrementalSyncAt: row.LastIncrementalSyncAt,
	}, nil
}

// CacheStats combines the sync_state row with live counts over the cache
// table, so deleted-entry counts stay accurate between syncs.
func (s *Store) CacheStats(ctx context.Context) (models.CacheStats, error) {
	stats, err := s.GetSyncState(ctx)
	if err != nil {
		return models.CacheStats{}, err
	}
	var deleted int64
	if err := s.db.WithContext(ctx).Model(&driveFileRow{}).
		Where("is_deleted = 1").Count(&deleted).Error; err != nil {
		return models.CacheStats{}, err
	}
	stats.DeletedEntries = deleted
	return stats, nil
}

func driveFileToRow(f models.DriveFile) driveFileRow {
	return driveFileRow{
		DriveID:    f.DriveID,
		Name:       f.Name,
		Path:       f.Path,
		FolderID:   f.FolderID,
		Size:       f.Size,
		MimeType:   f.MimeType,
		CreatedAt:  f.CreatedAt,
		ModifiedAt: f.ModifiedAt,
		IsDeleted:  boolToInt(f.IsDeleted),
		CachedAt:   f.CachedAt,
	}
}

func rowToDriveFile(row driveFileRow) models.DriveFile {
	return models.DriveFile{
		DriveID:    row.DriveID,
		Name:       row.Name,
		Path:       row.Path,
		FolderID:   row.FolderID,
		Size:       row.Size,
		MimeType:   row.MimeType,
		CreatedAt:  row.CreatedAt,
		ModifiedAt: row.ModifiedAt,
		IsDeleted:  row.IsDeleted != 0,
		CachedAt:   row.CachedAt,
	}
}
