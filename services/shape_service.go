package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/GrainArc/FenceMap/methods"
	"github.com/GrainArc/FenceMap/models"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TileInvalidator 图形变更后清理服务端瓦片缓存
type TileInvalidator interface {
	DelMVT(namespaceID uint, geoms ...orb.Geometry)
}

// ShapeService 图形增删改查，每次写入都记录变更并清理瓦片
type ShapeService struct {
	db    *gorm.DB
	tiles TileInvalidator
	log   *slog.Logger
}

// NewShapeService 创建图形服务
func NewShapeService(db *gorm.DB, tiles TileInvalidator, log *slog.Logger) *ShapeService {
	return &ShapeService{db: db, tiles: tiles, log: log}
}

// Create 新建图形，uuid为空时由服务端分配
func (s *ShapeService) Create(shape models.Shape) (models.Shape, error) {
	created, err := s.BulkCreate([]models.Shape{shape})
	if err != nil {
		return models.Shape{}, err
	}
	return created[0], nil
}

// BulkCreate 批量新建，单事务写入
func (s *ShapeService) BulkCreate(shapes []models.Shape) ([]models.Shape, error) {
	if len(shapes) == 0 {
		return []models.Shape{}, nil
	}
	recs := make([]models.ShapeRecord, 0, len(shapes))
	for i, shape := range shapes {
		if err := validateGeometry(shape.Geometry); err != nil {
			return nil, methods.ValidationError().With("index", i).Wrap(err)
		}
		if shape.UUID == "" {
			shape.UUID = uuid.NewString()
		}
		nsID, err := s.resolveNamespace(shape.NamespaceID)
		if err != nil {
			return nil, err
		}
		shape.NamespaceID = nsID
		rec, err := models.NewShapeRecord(shape)
		if err != nil {
			return nil, methods.ValidationError().With("uuid", shape.UUID).Wrap(err)
		}
		recs = append(recs, rec)
	}

	recordType := models.RecordCreate
	if len(recs) > 1 {
		recordType = models.RecordBulkCreate
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&recs).Error; err != nil {
			return err
		}
		for _, rec := range recs {
			if err := tx.Create(newGeoRecord(rec, recordType, nil, rec.Geom)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	observeWrite(recordType, err)
	if err != nil {
		return nil, methods.StorageError().With("count", len(recs)).Wrapf(err, "create shapes")
	}

	out := make([]models.Shape, 0, len(recs))
	for _, rec := range recs {
		shape, err := rec.ToShape()
		if err != nil {
			return nil, methods.StorageError().Wrap(err)
		}
		s.invalidate(rec.NamespaceID, shape.Geom())
		out = append(out, shape)
	}
	return out, nil
}

// Get 按uuid获取未删除的图形
func (s *ShapeService) Get(id string) (models.Shape, error) {
	var rec models.ShapeRecord
	if err := s.db.Where("uuid = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Shape{}, methods.NotFoundError().With("uuid", id).Errorf("shape %s not found", id)
		}
		return models.Shape{}, methods.StorageError().With("uuid", id).Wrap(err)
	}
	shape, err := rec.ToShape()
	if err != nil {
		return models.Shape{}, methods.StorageError().Wrap(err)
	}
	return shape, nil
}

// Update 局部更新；patch.Deleted 控制软删除与恢复
func (s *ShapeService) Update(id string, patch models.ShapePatch) (models.Shape, error) {
	var rec models.ShapeRecord
	if err := s.db.Unscoped().Where("uuid = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Shape{}, methods.NotFoundError().With("uuid", id).Errorf("shape %s not found", id)
		}
		return models.Shape{}, methods.StorageError().With("uuid", id).Wrap(err)
	}
	oldGeom, _ := methods.WKBToGeometry(rec.Geom)
	oldWKB := rec.Geom
	oldNamespace := rec.NamespaceID

	if patch.Name != nil {
		rec.Name = *patch.Name
	}
	if patch.Geometry != nil {
		if err := validateGeometry(patch.Geometry); err != nil {
			return models.Shape{}, methods.ValidationError().With("uuid", id).Wrap(err)
		}
		if err := rec.SetGeometry(patch.Geometry); err != nil {
			return models.Shape{}, methods.ValidationError().With("uuid", id).Wrap(err)
		}
	}
	if patch.NamespaceID != nil {
		nsID, err := s.resolveNamespace(*patch.NamespaceID)
		if err != nil {
			return models.Shape{}, err
		}
		rec.NamespaceID = nsID
	}
	recordType := models.RecordUpdate
	if patch.Deleted != nil {
		if *patch.Deleted {
			rec.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
			recordType = models.RecordDelete
		} else {
			rec.DeletedAt = gorm.DeletedAt{}
		}
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Save(&rec).Error; err != nil {
			return err
		}
		return tx.Create(newGeoRecord(rec, recordType, oldWKB, rec.Geom)).Error
	})
	observeWrite(recordType, err)
	if err != nil {
		return models.Shape{}, methods.StorageError().With("uuid", id).Wrapf(err, "update shape")
	}

	shape, err := rec.ToShape()
	if err != nil {
		return models.Shape{}, methods.StorageError().Wrap(err)
	}
	s.invalidate(oldNamespace, oldGeom)
	s.invalidate(rec.NamespaceID, shape.Geom())
	return shape, nil
}

// BulkDelete 批量软删除，返回实际删除数量；不存在的uuid忽略
func (s *ShapeService) BulkDelete(ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var recs []models.ShapeRecord
	if err := s.db.Where("uuid IN ?", ids).Find(&recs).Error; err != nil {
		return 0, methods.StorageError().Wrap(err)
	}
	if len(recs) == 0 {
		return 0, nil
	}
	found := make([]string, 0, len(recs))
	for _, rec := range recs {
		found = append(found, rec.UUID)
	}

	var count int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("uuid IN ?", found).Delete(&models.ShapeRecord{})
		if result.Error != nil {
			return result.Error
		}
		count = result.RowsAffected
		for _, rec := range recs {
			if err := tx.Create(newGeoRecord(rec, models.RecordDelete, rec.Geom, nil)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	observeWrite(models.RecordDelete, err)
	if err != nil {
		return 0, methods.StorageError().With("count", len(found)).Wrapf(err, "delete shapes")
	}
	for _, rec := range recs {
		if geom, err := methods.WKBToGeometry(rec.Geom); err == nil {
			s.invalidate(rec.NamespaceID, geom)
		}
	}
	return count, nil
}

// Namespaces 分组及其图形元数据；slug为空时返回全部分组
func (s *ShapeService) Namespaces(slug string) ([]models.Namespace, error) {
	var namespaces []models.Namespace
	q := s.db.Order("id")
	if slug != "" {
		q = q.Where("slug = ?", slug)
	}
	if err := q.Find(&namespaces).Error; err != nil {
		return nil, methods.StorageError().Wrap(err)
	}
	for i := range namespaces {
		var metas []models.ShapeMeta
		err := s.db.Model(&models.ShapeRecord{}).
			Select("uuid", "name", "updated_at").
			Where("namespace_id = ?", namespaces[i].ID).
			Order("created_at").
			Scan(&metas).Error
		if err != nil {
			return nil, methods.StorageError().With("namespace", namespaces[i].Slug).Wrap(err)
		}
		namespaces[i].Shapes = metas
	}
	return namespaces, nil
}

// NamespaceBySlug 按slug查分组
func (s *ShapeService) NamespaceBySlug(slug string) (models.Namespace, error) {
	var ns models.Namespace
	if err := s.db.Where("slug = ?", slug).First(&ns).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ns, methods.NotFoundError().With("namespace", slug).Errorf("namespace %s not found", slug)
		}
		return ns, methods.StorageError().Wrap(err)
	}
	return ns, nil
}

// CreateNamespace 新建分组
func (s *ShapeService) CreateNamespace(ns models.Namespace) (models.Namespace, error) {
	if ns.Slug == "" {
		return ns, methods.ValidationError().Errorf("namespace slug is required")
	}
	if ns.Name == "" {
		ns.Name = ns.Slug
	}
	ns.ID = 0
	ns.IsDefault = false
	if err := s.db.Create(&ns).Error; err != nil {
		return ns, methods.StorageError().With("namespace", ns.Slug).Wrap(err)
	}
	return ns, nil
}

func (s *ShapeService) resolveNamespace(id uint) (uint, error) {
	if id == 0 {
		ns, err := models.EnsureDefaultNamespace(s.db)
		if err != nil {
			return 0, methods.StorageError().Wrap(err)
		}
		return ns.ID, nil
	}
	var count int64
	if err := s.db.Model(&models.Namespace{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return 0, methods.StorageError().Wrap(err)
	}
	if count == 0 {
		return 0, methods.ValidationError().With("namespace_id", id).Errorf("namespace %d does not exist", id)
	}
	return id, nil
}

func (s *ShapeService) invalidate(namespaceID uint, geom orb.Geometry) {
	if s.tiles == nil || geom == nil {
		return
	}
	s.tiles.DelMVT(namespaceID, geom)
}

func validateGeometry(f *geojson.Feature) error {
	if f == nil || f.Geometry == nil {
		return errors.New("geometry is required")
	}
	if !methods.IsAreal(f.Geometry) {
		return errors.New("geometry must be a polygon or multipolygon")
	}
	if !methods.IsSimple(f.Geometry) {
		return errors.New("geometry must not self-intersect")
	}
	return nil
}

func newGeoRecord(rec models.ShapeRecord, recordType string, oldWKB, newWKB []byte) *models.GeoRecord {
	return &models.GeoRecord{
		ShapeUUID:   rec.UUID,
		NamespaceID: rec.NamespaceID,
		Type:        recordType,
		Date:        time.Now(),
		OldGeojson:  wkbToGeoJSON(oldWKB),
		NewGeojson:  wkbToGeoJSON(newWKB),
	}
}

func wkbToGeoJSON(data []byte) datatypes.JSON {
	if len(data) == 0 {
		return nil
	}
	geom, err := methods.WKBToGeometry(data)
	if err != nil {
		return nil
	}
	out, err := json.Marshal(geojson.NewGeometry(geom))
	if err != nil {
		return nil
	}
	return datatypes.JSON(out)
}
