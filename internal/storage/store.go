package storage

import (
	"context"
	"errors"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

var ErrNotFound = errors.New("record not found")

// Store persists scans and the artifacts derived from them. Child records
// are keyed by scan id.
type Store interface {
	CreateScan(ctx context.Context, scan *models.ScanRecord) error
	GetScan(ctx context.Context, id string) (*models.ScanRecord, error)
	ListScans(ctx context.Context, limit int) ([]models.ScanRecord, error)
	UpdateScan(ctx context.Context, id string, update models.ScanUpdate) (*models.ScanRecord, error)

	CreateSubdomains(ctx context.Context, subs []models.Subdomain) error
	ListSubdomains(ctx context.Context, scanID string) ([]models.Subdomain, error)

	CreateTechnologies(ctx context.Context, techs []models.Technology) error
	ListTechnologies(ctx context.Context, scanID string) ([]models.Technology, error)

	CreateVulnerability(ctx context.Context, v *models.Vulnerability) error
	ListVulnerabilities(ctx context.Context, scanID string) ([]models.Vulnerability, error)

	CreateMappings(ctx context.Context, mappings []models.TechniqueMapping) error
	ListMappings(ctx context.Context, scanID string) ([]models.TechniqueMapping, error)

	Close() error
}
