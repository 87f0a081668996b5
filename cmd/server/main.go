package main

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"shiftline-backend/pkg/clock"
	"shiftline-backend/pkg/config"
	"shiftline-backend/pkg/db"
	"shiftline-backend/pkg/health"
	"shiftline-backend/pkg/logger"
	"shiftline-backend/pkg/middleware"
	"shiftline-backend/pkg/redis"
	"shiftline-backend/pkg/server"
	"shiftline-backend/pkg/task"
	"shiftline-backend/services/catalog"
	"shiftline-backend/services/shift"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		health.Module,
		fx.Provide(
			provideSnowflakeNode,
			clock.System,
			provideRouter,
			asHandler,
		),
		catalog.API,
		shift.API,
		server.ProvideHTTPServer,
		fx.Invoke(
			db.Otel,
			autoMigrate,
			registerHealthRoutes,
		),
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func provideRouter(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())
	return r
}

func asHandler(r *gin.Engine) http.Handler {
	return r
}

func registerHealthRoutes(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&catalog.Product{},
		&catalog.Packing{},
		&catalog.ProductPacking{},
		&catalog.DefaultSettings{},
		&shift.Shift{},
		&shift.ShiftTask{},
		&shift.PackingLog{},
	)
}
