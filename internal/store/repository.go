package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Repository is the durable-storage facade consumed by the
// synchronizer, the router's active-vendor cache and the HTTP API: a
// thin struct wrapping *gorm.DB. The registry uses *gorm.DB directly.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *gorm.DB { return r.db }

// ActiveVendors returns all active vendors ordered by priority
// ascending, backing the Smart Router's active-vendor cache.
func (r *Repository) ActiveVendors(ctx context.Context) ([]Vendor, error) {
	var vendors []Vendor
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("priority ASC").Find(&vendors).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active vendors: %w", err)
	}
	return vendors, nil
}

func (r *Repository) VendorByName(ctx context.Context, name string) (*Vendor, error) {
	var v Vendor
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repository) AllVendors(ctx context.Context) ([]Vendor, error) {
	var vendors []Vendor
	err := r.db.WithContext(ctx).Find(&vendors).Error
	return vendors, err
}

func (r *Repository) UpdateVendorSyncStatus(ctx context.Context, vendorID uint, status SyncStatus) error {
	return r.db.WithContext(ctx).Model(&Vendor{}).Where("id = ?", vendorID).
		Update("sync_status", status).Error
}

func (r *Repository) MarkVendorSynced(ctx context.Context, vendorID uint, metadataToo bool) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"sync_status":  SyncSuccess,
		"last_sync_at": now,
	}
	if metadataToo {
		updates["last_metadata_sync_at"] = now
	}
	return r.db.WithContext(ctx).Model(&Vendor{}).Where("id = ?", vendorID).
		Updates(updates).Error
}

func (r *Repository) UpdateVendorBalance(ctx context.Context, vendorID uint, balance float64) error {
	return r.db.WithContext(ctx).Model(&Vendor{}).Where("id = ?", vendorID).
		Update("last_balance", balance).Error
}

// ProviderCountriesByVendor returns the stored catalog rows for a
// vendor, used by the metadata-freshness check.
func (r *Repository) ProviderCountriesByVendor(ctx context.Context, vendorID uint) ([]ProviderCountry, error) {
	var rows []ProviderCountry
	err := r.db.WithContext(ctx).Where("vendor_id = ?", vendorID).Find(&rows).Error
	return rows, err
}

func (r *Repository) ProviderServicesByVendor(ctx context.Context, vendorID uint) ([]ProviderService, error) {
	var rows []ProviderService
	err := r.db.WithContext(ctx).Where("vendor_id = ?", vendorID).Find(&rows).Error
	return rows, err
}

// UpsertProviderCountry writes a row only if it is new or has changed.
func (r *Repository) UpsertProviderCountry(ctx context.Context, row *ProviderCountry) (changed bool, err error) {
	var existing ProviderCountry
	tx := r.db.WithContext(ctx).Where("vendor_id = ? AND external_id = ?", row.VendorID, row.ExternalID).First(&existing)
	if tx.Error == gorm.ErrRecordNotFound {
		row.LastSyncAt = time.Now().UTC()
		if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
			return false, err
		}
		return true, nil
	}
	if tx.Error != nil {
		return false, tx.Error
	}

	if existing.CanonicalCode == row.CanonicalCode &&
		existing.CanonicalName == row.CanonicalName &&
		existing.IconURL == row.IconURL &&
		existing.IsActive == row.IsActive {
		row.ID = existing.ID
		return false, nil
	}

	existing.CanonicalCode = row.CanonicalCode
	existing.CanonicalName = row.CanonicalName
	existing.IconURL = row.IconURL
	existing.IsActive = row.IsActive
	existing.LastSyncAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return false, err
	}
	*row = existing
	return true, nil
}

func (r *Repository) UpsertProviderService(ctx context.Context, row *ProviderService) (changed bool, err error) {
	var existing ProviderService
	tx := r.db.WithContext(ctx).Where("vendor_id = ? AND external_id = ?", row.VendorID, row.ExternalID).First(&existing)
	if tx.Error == gorm.ErrRecordNotFound {
		row.LastSyncAt = time.Now().UTC()
		if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
			return false, err
		}
		return true, nil
	}
	if tx.Error != nil {
		return false, tx.Error
	}

	if existing.CanonicalCode == row.CanonicalCode &&
		existing.CanonicalName == row.CanonicalName &&
		existing.IconURL == row.IconURL &&
		existing.IsActive == row.IsActive {
		row.ID = existing.ID
		return false, nil
	}

	existing.CanonicalCode = row.CanonicalCode
	existing.CanonicalName = row.CanonicalName
	existing.IconURL = row.IconURL
	existing.IsActive = row.IsActive
	existing.LastSyncAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return false, err
	}
	*row = existing
	return true, nil
}

// RecordSyncRun persists one sync-run history entry.
func (r *Repository) RecordSyncRun(ctx context.Context, run *SyncRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *Repository) FinishSyncRun(ctx context.Context, run *SyncRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *Repository) SyncCount(ctx context.Context, vendorID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&SyncRun{}).Where("vendor_id = ? AND status = ?", vendorID, SyncSuccess).Count(&count).Error
	return count, err
}
