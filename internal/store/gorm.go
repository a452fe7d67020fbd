package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

// maxCASRetries bounds re-reads when a row's version moved under us for a
// reason unrelated to the caller's expectation (reorder, for instance).
const maxCASRetries = 5

type projectRow struct {
	ID        string         `gorm:"primaryKey;size:36"`
	Name      string         `gorm:"size:200;not null"`
	Output    datatypes.JSON `gorm:"not null"`
	RenderID  string         `gorm:"size:36"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (projectRow) TableName() string { return "projects" }

type segmentRow struct {
	ID          string         `gorm:"primaryKey;size:36"`
	ProjectID   string         `gorm:"size:36;not null;index:idx_segments_project_order"`
	OrderIndex  int            `gorm:"not null;index:idx_segments_project_order"`
	Directive   datatypes.JSON `gorm:"not null"`
	Status      string         `gorm:"size:20;not null;index"`
	JobID       string         `gorm:"size:36"`
	ArtifactRef string         `gorm:"size:1024"`
	Fingerprint string         `gorm:"size:64;index"`
	Attempts    int            `gorm:"not null;default:0"`
	Error       datatypes.JSON
	Version     int64 `gorm:"not null;default:1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (segmentRow) TableName() string { return "segments" }

type renderRow struct {
	ID                string `gorm:"primaryKey;size:36"`
	ProjectID         string `gorm:"size:36;not null;index"`
	Interactive       bool
	PartiallyFailed   bool
	Cancelled         bool
	CompositionJobID  string `gorm:"size:36"`
	CompositionStatus string `gorm:"size:20"`
	FinalArtifactRef  string `gorm:"size:1024"`
	CompositionError  string `gorm:"type:text"`
	Version           int64  `gorm:"not null;default:1"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (renderRow) TableName() string { return "renders" }

// GormStore persists state through GORM (MySQL in production, SQLite for
// single-node deployments and tests).
type GormStore struct {
	db *gorm.DB
}

// OpenGorm connects to driver ("mysql" or "sqlite") and migrates the schema.
// SQL statements are logged when logLevel is "debug".
func OpenGorm(driver, dsn, logLevel string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	mode := logger.Warn
	switch logLevel {
	case "debug":
		mode = logger.Info
	case "error":
		mode = logger.Error
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(mode)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewGormStore(db)
}

// NewGormStore migrates the schema on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&projectRow{}, &segmentRow{}, &renderRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dbErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *GormStore) CreateProject(ctx context.Context, project *model.Project, segments []model.Segment) error {
	now := time.Now()
	output, err := json.Marshal(project.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output config: %w", err)
	}

	rows := make([]segmentRow, 0, len(segments))
	ids := make([]string, 0, len(segments))
	for i := range segments {
		seg := segments[i].Clone()
		seg.ProjectID = project.ID
		seg.OrderIndex = i
		seg.Version = 1
		seg.CreatedAt, seg.UpdatedAt = now, now
		if !seg.Consistent() {
			return ErrInvalidSegment
		}
		row, err := toSegmentRow(&seg)
		if err != nil {
			return err
		}
		rows = append(rows, *row)
		ids = append(ids, seg.ID)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&projectRow{ID: project.ID, Name: project.Name, Output: output, CreatedAt: now, UpdatedAt: now}).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			return tx.Create(&rows).Error
		}
		return nil
	})
	if err != nil {
		return dbErr(err)
	}

	project.SegmentIDs = ids
	project.CreatedAt, project.UpdatedAt = now, now
	return nil
}

func (s *GormStore) Load(ctx context.Context, projectID string) (*model.Project, []model.Segment, error) {
	var prow projectRow
	if err := s.db.WithContext(ctx).First(&prow, "id = ?", projectID).Error; err != nil {
		return nil, nil, dbErr(err)
	}
	var rows []segmentRow
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("order_index").Find(&rows).Error; err != nil {
		return nil, nil, dbErr(err)
	}

	project := &model.Project{
		ID:         prow.ID,
		Name:       prow.Name,
		RenderID:   prow.RenderID,
		SegmentIDs: make([]string, 0, len(rows)),
		CreatedAt:  prow.CreatedAt,
		UpdatedAt:  prow.UpdatedAt,
	}
	if err := json.Unmarshal(prow.Output, &project.Output); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal output config: %w", err)
	}

	segments := make([]model.Segment, 0, len(rows))
	for i := range rows {
		seg, err := rows[i].toModel()
		if err != nil {
			return nil, nil, err
		}
		segments = append(segments, *seg)
		project.SegmentIDs = append(project.SegmentIDs, seg.ID)
	}
	return project, segments, nil
}

func (s *GormStore) DeleteProject(ctx context.Context, projectID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&projectRow{}, "id = ?", projectID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Delete(&segmentRow{}, "project_id = ?", projectID).Error; err != nil {
			return err
		}
		return tx.Delete(&renderRow{}, "project_id = ?", projectID).Error
	})
	if err != nil {
		return dbErr(err)
	}
	return nil
}

func (s *GormStore) GetSegment(ctx context.Context, segmentID string) (*model.Segment, error) {
	var row segmentRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", segmentID).Error; err != nil {
		return nil, dbErr(err)
	}
	return row.toModel()
}

func (s *GormStore) AddSegment(ctx context.Context, projectID string, segment *model.Segment, position int) error {
	now := time.Now()
	seg := segment.Clone()
	seg.ProjectID = projectID
	seg.Version = 1
	seg.CreatedAt, seg.UpdatedAt = now, now
	if !seg.Consistent() {
		return ErrInvalidSegment
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&projectRow{}, "id = ?", projectID).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&segmentRow{}).Where("project_id = ?", projectID).Count(&count).Error; err != nil {
			return err
		}
		if position < 0 || position > int(count) {
			position = int(count)
		}
		seg.OrderIndex = position

		err := tx.Model(&segmentRow{}).
			Where("project_id = ? AND order_index >= ?", projectID, position).
			Updates(map[string]interface{}{
				"order_index": gorm.Expr("order_index + 1"),
				"version":     gorm.Expr("version + 1"),
				"updated_at":  now,
			}).Error
		if err != nil {
			return err
		}

		row, err := toSegmentRow(&seg)
		if err != nil {
			return err
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return tx.Model(&projectRow{}).Where("id = ?", projectID).Update("updated_at", now).Error
	})
	if err != nil {
		return dbErr(err)
	}
	*segment = seg
	return nil
}

func (s *GormStore) RemoveSegment(ctx context.Context, segmentID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row segmentRow
		if err := tx.First(&row, "id = ?", segmentID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&segmentRow{}, "id = ?", segmentID).Error; err != nil {
			return err
		}
		return tx.Model(&segmentRow{}).
			Where("project_id = ? AND order_index > ?", row.ProjectID, row.OrderIndex).
			Updates(map[string]interface{}{
				"order_index": gorm.Expr("order_index - 1"),
				"version":     gorm.Expr("version + 1"),
				"updated_at":  time.Now(),
			}).Error
	})
	if err != nil {
		return dbErr(err)
	}
	return nil
}

func (s *GormStore) ReorderSegments(ctx context.Context, projectID string, orderedIDs []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&projectRow{}, "id = ?", projectID).Error; err != nil {
			return err
		}
		var current []string
		if err := tx.Model(&segmentRow{}).Where("project_id = ?", projectID).Order("order_index").Pluck("id", &current).Error; err != nil {
			return err
		}
		if !validPermutation(current, orderedIDs) {
			return ErrInvalidOrder
		}

		now := time.Now()
		for i, id := range orderedIDs {
			err := tx.Model(&segmentRow{}).
				Where("id = ? AND order_index <> ?", id, i).
				Updates(map[string]interface{}{
					"order_index": i,
					"version":     gorm.Expr("version + 1"),
					"updated_at":  now,
				}).Error
			if err != nil {
				return err
			}
		}
		return tx.Model(&projectRow{}).Where("id = ?", projectID).Update("updated_at", now).Error
	})
	if errors.Is(err, ErrInvalidOrder) {
		return err
	}
	if err != nil {
		return dbErr(err)
	}
	return nil
}

func (s *GormStore) UpdateSegment(ctx context.Context, segmentID string, expect Expect, fn func(*model.Segment)) (*model.Segment, error) {
	for i := 0; i < maxCASRetries; i++ {
		var row segmentRow
		if err := s.db.WithContext(ctx).First(&row, "id = ?", segmentID).Error; err != nil {
			return nil, dbErr(err)
		}
		seg, err := row.toModel()
		if err != nil {
			return nil, err
		}
		if err := expect.check(seg); err != nil {
			return nil, err
		}

		fn(seg)
		seg.ID, seg.ProjectID, seg.OrderIndex = row.ID, row.ProjectID, row.OrderIndex
		if !seg.Consistent() {
			return nil, ErrInvalidSegment
		}
		seg.Version = row.Version + 1
		seg.UpdatedAt = time.Now()

		next, err := toSegmentRow(seg)
		if err != nil {
			return nil, err
		}
		res := s.db.WithContext(ctx).Model(&segmentRow{}).
			Where("id = ? AND version = ?", segmentID, row.Version).
			Updates(map[string]interface{}{
				"directive":    next.Directive,
				"status":       next.Status,
				"job_id":       next.JobID,
				"artifact_ref": next.ArtifactRef,
				"fingerprint":  next.Fingerprint,
				"attempts":     next.Attempts,
				"error":        next.Error,
				"version":      next.Version,
				"updated_at":   next.UpdatedAt,
			})
		if res.Error != nil {
			return nil, dbErr(res.Error)
		}
		if res.RowsAffected == 1 {
			return seg, nil
		}
	}
	return nil, fmt.Errorf("%w: segment %s kept changing", ErrConflict, segmentID)
}

func (s *GormStore) CreateRender(ctx context.Context, render *model.Render) error {
	now := time.Now()
	r := *render
	r.Version = 1
	r.CreatedAt, r.UpdatedAt = now, now
	row := toRenderRow(&r)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&projectRow{}).Where("id = ?", r.ProjectID).
			Updates(map[string]interface{}{"render_id": r.ID, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return dbErr(err)
	}
	*render = r
	return nil
}

func (s *GormStore) GetRender(ctx context.Context, renderID string) (*model.Render, error) {
	var row renderRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", renderID).Error; err != nil {
		return nil, dbErr(err)
	}
	return row.toModel(), nil
}

func (s *GormStore) LatestRender(ctx context.Context, projectID string) (*model.Render, error) {
	var prow projectRow
	if err := s.db.WithContext(ctx).First(&prow, "id = ?", projectID).Error; err != nil {
		return nil, dbErr(err)
	}
	if prow.RenderID == "" {
		return nil, ErrNotFound
	}
	return s.GetRender(ctx, prow.RenderID)
}

func (s *GormStore) UpdateRender(ctx context.Context, renderID string, fn func(*model.Render) error) (*model.Render, error) {
	for i := 0; i < maxCASRetries; i++ {
		var row renderRow
		if err := s.db.WithContext(ctx).First(&row, "id = ?", renderID).Error; err != nil {
			return nil, dbErr(err)
		}
		r := row.toModel()
		if err := fn(r); err != nil {
			return nil, err
		}
		r.ID, r.ProjectID = row.ID, row.ProjectID
		r.Version = row.Version + 1
		r.UpdatedAt = time.Now()

		next := toRenderRow(r)
		res := s.db.WithContext(ctx).Model(&renderRow{}).
			Where("id = ? AND version = ?", renderID, row.Version).
			Updates(map[string]interface{}{
				"interactive":        next.Interactive,
				"partially_failed":   next.PartiallyFailed,
				"cancelled":          next.Cancelled,
				"composition_job_id": next.CompositionJobID,
				"composition_status": next.CompositionStatus,
				"final_artifact_ref": next.FinalArtifactRef,
				"composition_error":  next.CompositionError,
				"version":            next.Version,
				"updated_at":         next.UpdatedAt,
			})
		if res.Error != nil {
			return nil, dbErr(res.Error)
		}
		if res.RowsAffected == 1 {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: render %s kept changing", ErrConflict, renderID)
}

func toSegmentRow(seg *model.Segment) (*segmentRow, error) {
	directive, err := json.Marshal(seg.Directive)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal directive: %w", err)
	}
	var errRecord datatypes.JSON
	if seg.Error != nil {
		if errRecord, err = json.Marshal(seg.Error); err != nil {
			return nil, fmt.Errorf("failed to marshal error record: %w", err)
		}
	}
	return &segmentRow{
		ID:          seg.ID,
		ProjectID:   seg.ProjectID,
		OrderIndex:  seg.OrderIndex,
		Directive:   directive,
		Status:      string(seg.Status),
		JobID:       seg.JobID,
		ArtifactRef: seg.ArtifactRef,
		Fingerprint: seg.Fingerprint,
		Attempts:    seg.Attempts,
		Error:       errRecord,
		Version:     seg.Version,
		CreatedAt:   seg.CreatedAt,
		UpdatedAt:   seg.UpdatedAt,
	}, nil
}

func (r *segmentRow) toModel() (*model.Segment, error) {
	seg := &model.Segment{
		ID:          r.ID,
		ProjectID:   r.ProjectID,
		OrderIndex:  r.OrderIndex,
		Status:      model.SegmentStatus(r.Status),
		JobID:       r.JobID,
		ArtifactRef: r.ArtifactRef,
		Fingerprint: r.Fingerprint,
		Attempts:    r.Attempts,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Directive, &seg.Directive); err != nil {
		return nil, fmt.Errorf("failed to unmarshal directive: %w", err)
	}
	if len(r.Error) > 0 && string(r.Error) != "null" {
		seg.Error = &model.ErrorRecord{}
		if err := json.Unmarshal(r.Error, seg.Error); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error record: %w", err)
		}
	}
	return seg, nil
}

func toRenderRow(r *model.Render) *renderRow {
	return &renderRow{
		ID:                r.ID,
		ProjectID:         r.ProjectID,
		Interactive:       r.Interactive,
		PartiallyFailed:   r.PartiallyFailed,
		Cancelled:         r.Cancelled,
		CompositionJobID:  r.CompositionJobID,
		CompositionStatus: string(r.CompositionStatus),
		FinalArtifactRef:  r.FinalArtifactRef,
		CompositionError:  r.CompositionError,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func (r *renderRow) toModel() *model.Render {
	return &model.Render{
		ID:                r.ID,
		ProjectID:         r.ProjectID,
		Interactive:       r.Interactive,
		PartiallyFailed:   r.PartiallyFailed,
		Cancelled:         r.Cancelled,
		CompositionJobID:  r.CompositionJobID,
		CompositionStatus: model.CompositionStatus(r.CompositionStatus),
		FinalArtifactRef:  r.FinalArtifactRef,
		CompositionError:  r.CompositionError,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func (s *GormStore) ActiveProjects(ctx context.Context) ([]string, error) {
	var generating, composing []string
	err := s.db.WithContext(ctx).Model(&segmentRow{}).
		Where("status IN ?", []string{string(model.SegmentQueued), string(model.SegmentGenerating)}).
		Distinct("project_id").
		Pluck("project_id", &generating).Error
	if err != nil {
		return nil, dbErr(err)
	}
	err = s.db.WithContext(ctx).Model(&renderRow{}).
		Joins("JOIN projects ON projects.render_id = renders.id").
		Where("renders.composition_status = ?", string(model.CompositionQueued)).
		Distinct("renders.project_id").
		Pluck("renders.project_id", &composing).Error
	if err != nil {
		return nil, dbErr(err)
	}

	active := make(map[string]bool, len(generating)+len(composing))
	for _, id := range append(generating, composing...) {
		active[id] = true
	}
	return sortedKeys(active), nil
}
