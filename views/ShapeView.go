package views

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/GrainArc/FenceMap/methods"
	"github.com/GrainArc/FenceMap/models"
	"github.com/GrainArc/FenceMap/pgmvt"
	"github.com/GrainArc/FenceMap/services"
	"github.com/gin-gonic/gin"
)

// ShapeController 图形与瓦片接口
type ShapeController struct {
	shapes *services.ShapeService
	tiles  *pgmvt.Generator
	log    *slog.Logger
}

// NewShapeController 创建控制器
func NewShapeController(shapes *services.ShapeService, tiles *pgmvt.Generator, log *slog.Logger) *ShapeController {
	return &ShapeController{shapes: shapes, tiles: tiles, log: log}
}

type bulkDeleteData struct {
	UUIDs []string `json:"uuids"`
}

type bulkCreateData struct {
	Shapes []models.Shape `json:"shapes"`
}

// CreateShape 新建图形
func (uc *ShapeController) CreateShape(c *gin.Context) {
	var shape models.Shape
	if err := c.ShouldBindJSON(&shape); err != nil {
		uc.fail(c, methods.ValidationError().Wrapf(err, "invalid shape body"))
		return
	}
	created, err := uc.shapes.Create(shape)
	if err != nil {
		uc.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// UpdateShape 局部更新图形，deleted=true 为软删除
func (uc *ShapeController) UpdateShape(c *gin.Context) {
	var patch models.ShapePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		uc.fail(c, methods.ValidationError().Wrapf(err, "invalid patch body"))
		return
	}
	updated, err := uc.shapes.Update(c.Param("uuid"), patch)
	if err != nil {
		uc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// GetShape 按uuid获取图形
func (uc *ShapeController) GetShape(c *gin.Context) {
	shape, err := uc.shapes.Get(c.Param("uuid"))
	if err != nil {
		uc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, shape)
}

// BulkDelete 批量删除
func (uc *ShapeController) BulkDelete(c *gin.Context) {
	var data bulkDeleteData
	if err := c.ShouldBindJSON(&data); err != nil {
		uc.fail(c, methods.ValidationError().Wrapf(err, "invalid bulk delete body"))
		return
	}
	count, err := uc.shapes.BulkDelete(data.UUIDs)
	if err != nil {
		uc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// BulkCreate 批量新建
func (uc *ShapeController) BulkCreate(c *gin.Context) {
	var data bulkCreateData
	if err := c.ShouldBindJSON(&data); err != nil {
		uc.fail(c, methods.ValidationError().Wrapf(err, "invalid bulk create body"))
		return
	}
	created, err := uc.shapes.BulkCreate(data.Shapes)
	if err != nil {
		uc.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetNamespaces 分组及图形元数据，不含几何
func (uc *ShapeController) GetNamespaces(c *gin.Context) {
	namespaces, err := uc.shapes.Namespaces(c.Query("namespace"))
	if err != nil {
		uc.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, namespaces)
}

// CreateNamespace 新建分组
func (uc *ShapeController) CreateNamespace(c *gin.Context) {
	var ns models.Namespace
	if err := c.ShouldBindJSON(&ns); err != nil {
		uc.fail(c, methods.ValidationError().Wrapf(err, "invalid namespace body"))
		return
	}
	created, err := uc.shapes.CreateNamespace(ns)
	if err != nil {
		uc.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// OutMVT 输出矢量瓦片，空瓦片返回204
func (uc *ShapeController) OutMVT(c *gin.Context) {
	ns, err := uc.shapes.NamespaceBySlug(c.Param("namespace"))
	if err != nil {
		uc.fail(c, err)
		return
	}
	z, errZ := strconv.Atoi(c.Param("z"))
	x, errX := strconv.Atoi(c.Param("x"))
	y, errY := strconv.Atoi(strings.TrimSuffix(c.Param("y"), ".pbf"))
	if errZ != nil || errX != nil || errY != nil {
		uc.fail(c, methods.ValidationError().Errorf("invalid tile coordinate"))
		return
	}
	data, err := uc.tiles.MakeMvt(ns.ID, x, y, z)
	if err != nil {
		uc.fail(c, err)
		return
	}
	if len(data) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "application/x-protobuf", data)
}

func (uc *ShapeController) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case methods.IsValidation(err):
		status = http.StatusBadRequest
	case methods.IsNotFound(err):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		methods.LogError(uc.log, "request failed", err)
	}
	c.JSON(status, gin.H{
		"code":    status,
		"message": err.Error(),
	})
}
