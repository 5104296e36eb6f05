package routers

import (
	"github.com/GrainArc/FenceMap/views"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GeoRouters 注册图形、分组与瓦片路由
func GeoRouters(r *gin.Engine, shapeCtrl *views.ShapeController) {
	apiRouter := r.Group("/api")
	{
		apiRouter.POST("/shapes", shapeCtrl.CreateShape)
		apiRouter.GET("/shapes/:uuid", shapeCtrl.GetShape)
		apiRouter.PATCH("/shapes/:uuid", shapeCtrl.UpdateShape)
		apiRouter.POST("/shapes/bulk-delete", shapeCtrl.BulkDelete)
		apiRouter.POST("/shapes/bulk-create", shapeCtrl.BulkCreate)

		apiRouter.GET("/namespaces", shapeCtrl.GetNamespaces)
		apiRouter.POST("/namespaces", shapeCtrl.CreateNamespace)
	}
	r.GET("/tiles/:namespace/:z/:x/:y", shapeCtrl.OutMVT)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
