// Package product holds the domain entities of the product-management
// application (features, releases) and the change-detection logic that
// decides when an entity write must refresh its embedding.
package product

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the entity does not exist for the given tenant.
var ErrNotFound = errors.New("entity not found")

// EntityType identifies which entity table a record belongs to.
// Values match the table names used as embedding keys.
type EntityType string

const (
	EntityTypeFeature EntityType = "features"
	EntityTypeRelease EntityType = "releases"
)

// Feature is a product feature on a roadmap.
type Feature struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Name           string
	Description    string
	Priority       string
	WorkflowStatus string
	StartDate      *time.Time
	EndDate        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Release is a planned or shipped release.
type Release struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Name        string
	Description string
	Status      string
	ReleaseDate *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
