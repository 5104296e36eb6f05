package routers

import (
	"log/slog"

	"github.com/GrainArc/FenceMap/config"
	"github.com/GrainArc/FenceMap/pgmvt"
	"github.com/GrainArc/FenceMap/services"
	"github.com/GrainArc/FenceMap/views"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// NewEngine 组装服务与路由
func NewEngine(cfg config.Config, db *gorm.DB, log *slog.Logger) *gin.Engine {
	tileCache := services.NewTileCacheService(db)
	generator := pgmvt.NewGenerator(db, tileCache, cfg.MaxZoom, cfg.TileClearLimit, cfg.TileExtent, log)
	shapeService := services.NewShapeService(db, generator, log)
	shapeCtrl := views.NewShapeController(shapeService, generator, log)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	GeoRouters(r, shapeCtrl)
	return r
}
