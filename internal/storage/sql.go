package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

type SQLStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// OpenMySQL connects with the given DSN and migrates every table.
func OpenMySQL(dsn string, logger *logrus.Logger) (*SQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	return NewSQLStore(db, logger)
}

func NewSQLStore(db *gorm.DB, logger *logrus.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := db.AutoMigrate(
		&models.ScanRecord{},
		&models.Subdomain{},
		&models.Technology{},
		&models.Vulnerability{},
		&models.TechniqueMapping{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLStore{db: db, logger: logger}, nil
}

func (s *SQLStore) CreateScan(ctx context.Context, scan *models.ScanRecord) error {
	if err := s.db.WithContext(ctx).Create(scan).Error; err != nil {
		return fmt.Errorf("create scan %s: %w", scan.ID, err)
	}
	return nil
}

func (s *SQLStore) GetScan(ctx context.Context, id string) (*models.ScanRecord, error) {
	var scan models.ScanRecord
	err := s.db.WithContext(ctx).First(&scan, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("scan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get scan %s: %w", id, err)
	}
	return &scan, nil
}

func (s *SQLStore) ListScans(ctx context.Context, limit int) ([]models.ScanRecord, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Omit("results")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var scans []models.ScanRecord
	if err := q.Find(&scans).Error; err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	return scans, nil
}

func (s *SQLStore) UpdateScan(ctx context.Context, id string, update models.ScanUpdate) (*models.ScanRecord, error) {
	cols := updateColumns(update)
	if len(cols) > 0 {
		res := s.db.WithContext(ctx).Model(&models.ScanRecord{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			return nil, fmt.Errorf("update scan %s: %w", id, res.Error)
		}
	}
	return s.GetScan(ctx, id)
}

// updateColumns maps the set fields of a partial update to column names.
func updateColumns(u models.ScanUpdate) map[string]interface{} {
	cols := make(map[string]interface{})
	if u.Status != nil {
		cols["status"] = string(*u.Status)
	}
	if u.Progress != nil {
		cols["progress"] = *u.Progress
	}
	if u.RiskScore != nil {
		cols["risk_score"] = *u.RiskScore
	}
	if u.Results != nil {
		cols["results"] = u.Results
	}
	if u.Error != nil {
		cols["error"] = *u.Error
	}
	if u.CompletedAt != nil {
		cols["completed_at"] = *u.CompletedAt
	}
	return cols
}

func (s *SQLStore) CreateSubdomains(ctx context.Context, subs []models.Subdomain) error {
	if len(subs) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(subs, 100).Error; err != nil {
		return fmt.Errorf("create subdomains: %w", err)
	}
	return nil
}

func (s *SQLStore) ListSubdomains(ctx context.Context, scanID string) ([]models.Subdomain, error) {
	var out []models.Subdomain
	if err := s.db.WithContext(ctx).Where("scan_id = ?", scanID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list subdomains: %w", err)
	}
	return out, nil
}

func (s *SQLStore) CreateTechnologies(ctx context.Context, techs []models.Technology) error {
	if len(techs) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(techs, 100).Error; err != nil {
		return fmt.Errorf("create technologies: %w", err)
	}
	return nil
}

func (s *SQLStore) ListTechnologies(ctx context.Context, scanID string) ([]models.Technology, error) {
	var out []models.Technology
	if err := s.db.WithContext(ctx).Where("scan_id = ?", scanID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list technologies: %w", err)
	}
	return out, nil
}

func (s *SQLStore) CreateVulnerability(ctx context.Context, v *models.Vulnerability) error {
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("create vulnerability %s: %w", v.ID, err)
	}
	return nil
}

func (s *SQLStore) ListVulnerabilities(ctx context.Context, scanID string) ([]models.Vulnerability, error) {
	var out []models.Vulnerability
	if err := s.db.WithContext(ctx).Where("scan_id = ?", scanID).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list vulnerabilities: %w", err)
	}
	return out, nil
}

func (s *SQLStore) CreateMappings(ctx context.Context, mappings []models.TechniqueMapping) error {
	if len(mappings) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(mappings, 100).Error; err != nil {
		return fmt.Errorf("create mappings: %w", err)
	}
	return nil
}

func (s *SQLStore) ListMappings(ctx context.Context, scanID string) ([]models.TechniqueMapping, error) {
	var out []models.TechniqueMapping
	if err := s.db.WithContext(ctx).Where("scan_id = ?", scanID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
