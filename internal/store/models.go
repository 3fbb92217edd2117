// Package store holds the durable GORM models for the provider core:
// vendors, their mapping documents, the canonical lookups, and the
// per-vendor catalog rows.
package store

import (
	"time"
)

// NormalizationMode selects how a vendor's raw currency is converted
// to USD at price-sync time.
type NormalizationMode string

const (
	NormalizationAuto      NormalizationMode = "AUTO"
	NormalizationManual    NormalizationMode = "MANUAL"
	NormalizationSmartAuto NormalizationMode = "SMART_AUTO"
)

// SyncStatus is the vendor's last-observed sync outcome.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

// Vendor is one upstream SMS-activation provider, configured entirely
// by its Mapping document.
type Vendor struct {
	ID                 uint       `gorm:"primaryKey"`
	Name               string     `gorm:"uniqueIndex;size:64;not null"`
	DisplayName        string     `gorm:"size:128"`
	IsActive           bool       `gorm:"default:true"`
	Priority           int        `gorm:"default:100"`
	Weight             float64    `gorm:"default:1"`
	PriceMultiplier    float64    `gorm:"default:1"`
	FixedMarkup        float64    `gorm:"default:0"`
	Currency           string     `gorm:"size:8"`
	DepositCurrency    string     `gorm:"size:8"`
	NormalizationMode  NormalizationMode `gorm:"size:16;default:AUTO"`
	NormalizationRate  *float64
	DepositSpent       *float64
	DepositReceived    *float64
	UseGlobalSync      bool `gorm:"default:false"`
	LastBalance        float64
	LowBalanceThreshold float64 `gorm:"default:5"`
	LastSyncAt         *time.Time
	LastMetadataSyncAt *time.Time
	SyncStatus         SyncStatus `gorm:"size:16;default:idle"`
	SyncCount          int64      `gorm:"default:0"`
	Mapping            Mapping    `gorm:"type:jsonb;serializer:json"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OperationMapping describes how one logical adapter operation binds
// to a concrete HTTP call.
type OperationMapping struct {
	Method      string            `json:"method"`
	URLTemplate string            `json:"urlTemplate"`
	Headers     map[string]string `json:"headers,omitempty"`
	Auth        AuthRecipe        `json:"auth"`
	BodyTemplate string           `json:"bodyTemplate,omitempty"`
	Encoding    string            `json:"encoding"` // form|json|query
	Decode      ResponseShape     `json:"decode"`
	TimeoutMs   int               `json:"timeoutMs,omitempty"`
	ErrorRules  []ErrorRule       `json:"errorRules,omitempty"`
}

// AuthRecipe describes how vendor credentials are attached to a request.
type AuthRecipe struct {
	Kind       string `json:"kind"` // query|bearer|header
	Key        string `json:"key,omitempty"`
	HeaderName string `json:"headerName,omitempty"`
	Value      string `json:"value"`
}

// ResponseShape declares how to decode and field-select a response.
type ResponseShape struct {
	Format       string            `json:"format"` // json|keyValue|csv|xml
	ListPath     string            `json:"listPath,omitempty"`
	Fields       map[string]string `json:"fields"` // logical field -> path/column selector
	Delimiter    string            `json:"delimiter,omitempty"`
}

// ErrorRule maps a status code or body pattern to a vendorerr.Kind.
type ErrorRule struct {
	StatusCode int    `json:"statusCode,omitempty"`
	BodyRegex  string `json:"bodyRegex,omitempty"`
	Kind       string `json:"kind"`
}

// Mapping is the full per-vendor declarative descriptor: one
// OperationMapping per logical operation.
type Mapping struct {
	Version       int                         `json:"version"`
	Operations    map[string]OperationMapping `json:"operations"`
	DefaultTimeoutMs int                      `json:"defaultTimeoutMs"`
}

// CountryLookup is the canonical registry's stable country key:
// integer id, string code, string name.
type CountryLookup struct {
	ID   uint   `gorm:"primaryKey;autoIncrement"`
	Code string `gorm:"uniqueIndex;size:64;not null"`
	Name string `gorm:"size:128;not null"`
}

// ServiceLookup is the canonical registry's stable service key.
type ServiceLookup struct {
	ID   uint   `gorm:"primaryKey;autoIncrement"`
	Code string `gorm:"uniqueIndex;size:64;not null"`
	Name string `gorm:"size:128;not null"`
}

// ProviderCountry is one vendor's raw country row, resolved against
// CountryLookup.
type ProviderCountry struct {
	ID            uint `gorm:"primaryKey"`
	VendorID      uint `gorm:"uniqueIndex:idx_provider_country_vendor_ext"`
	ExternalID    string `gorm:"uniqueIndex:idx_provider_country_vendor_ext;size:64"`
	CanonicalCode string `gorm:"size:64;index"`
	CanonicalName string `gorm:"size:128"`
	IconURL       string `gorm:"size:256"`
	IsActive      bool   `gorm:"default:true"`
	LastSyncAt    time.Time
}

// ProviderService is one vendor's raw service row, resolved against
// ServiceLookup.
type ProviderService struct {
	ID            uint `gorm:"primaryKey"`
	VendorID      uint `gorm:"uniqueIndex:idx_provider_service_vendor_ext"`
	ExternalID    string `gorm:"uniqueIndex:idx_provider_service_vendor_ext;size:64"`
	CanonicalCode string `gorm:"size:64;index"`
	CanonicalName string `gorm:"size:128"`
	IconURL       string `gorm:"size:256"`
	IsActive      bool   `gorm:"default:true"`
	LastSyncAt    time.Time
}

// SyncRun records one execution of the per-vendor sync job so
// operational endpoints and syncCount have durable history to read
// instead of an in-memory counter.
type SyncRun struct {
	ID           uint `gorm:"primaryKey"`
	VendorID     uint `gorm:"index"`
	VendorName   string `gorm:"size:64"`
	StartedAt    time.Time
	FinishedAt   *time.Time
	Countries    int
	Services     int
	Prices       int
	Status       SyncStatus `gorm:"size:16"`
	Error        string     `gorm:"size:1024"`
}
