package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cardDesigner/internal/api/middleware"
	"cardDesigner/internal/auth"
	"cardDesigner/internal/badge"
	"cardDesigner/internal/config"
	"cardDesigner/internal/editor"
	"cardDesigner/internal/fonts"
	"cardDesigner/internal/storage"
	"cardDesigner/internal/store"
)

// Dependencies 汇总路由需要的外部依赖。
type Dependencies struct {
	Config      *config.Config
	DB          *gorm.DB
	Layouts     store.Store
	Cache       store.Cache
	Badges      *BadgeService
	Queue       taskEnqueuer
	Redis       *redis.Client
	Storage     *storage.Client
	AuthService *auth.AuthService
	Fonts       *fonts.Library
	Images      badge.ImageLoader
	PDF         PDFFunc
	Logger      *slog.Logger
}

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	cfg := deps.Config
	writeAuth := middleware.AuthMiddleware(deps.AuthService, auth.ScopeCardDesignWrite)

	// Redis 为空时不广播也不限流；避免把 nil 指针装进接口。
	var (
		notifier editor.Notifier
		pubsub   redisPubSub
		rate     redisRateCounter
	)
	if deps.Redis != nil {
		// 通知消息的 source 用于让编辑器会话忽略自己发出的通知，REST 保存使用固定来源。
		notifier = NewRedisNotifier(deps.Redis, "api")
		pubsub = deps.Redis
		rate = deps.Redis
	}

	cardDesignHandler := NewCardDesignHandler(deps.Layouts, notifier, deps.Logger)
	editorHandler := NewEditorWsHandler(deps.Layouts, deps.Cache, pubsub, deps.AuthService, deps.Logger, nil)
	codeHandler := NewCodeHandler()
	assetHandler := NewAssetHandler(deps.Storage, cfg.Clamd.Address, cfg.API.PublicBaseURL)
	badgeHandler := &BadgeHandler{
		Service:    deps.Badges,
		DB:         deps.DB,
		Queue:      deps.Queue,
		Storage:    deps.Storage,
		Fonts:      deps.Fonts,
		Images:     deps.Images,
		PDF:        deps.PDF,
		Rate:       rate,
		PrintLimit: cfg.Render.PrintLimit,
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/settings/card-design", cardDesignHandler.GetCardDesign)
		v1.PUT("/settings/card-design", writeAuth, cardDesignHandler.PutCardDesign)

		v1.GET("/editor/ws", editorHandler.HandleConnection)

		codeGroup := v1.Group("/codes")
		{
			codeGroup.GET("/barcode/:id", codeHandler.Barcode)
			codeGroup.GET("/qr", codeHandler.QRCode)
		}

		assetGroup := v1.Group("/assets/backgrounds")
		{
			assetGroup.GET("", assetHandler.ListBackgrounds)
			assetGroup.GET("/:name", assetHandler.ServeBackground)
			assetGroup.POST("", writeAuth, assetHandler.UploadBackground)
			assetGroup.DELETE("/:name", writeAuth, assetHandler.DeleteBackground)
		}

		badgeGroup := v1.Group("/badges")
		{
			badgeGroup.POST("/render", badgeHandler.RenderBadge)
			badgeGroup.GET("/:visitorId", badgeHandler.GetBadge)
			badgeGroup.POST("/:visitorId/print", writeAuth, badgeHandler.EnqueuePrint)

			badgeGroup.GET("/prints/:id", badgeHandler.GetPrint)
			badgeGroup.GET("/prints/:id/download-link", badgeHandler.GetPrintDownloadLink)
			badgeGroup.GET("/prints/:id/pdf", badgeHandler.DownloadPrint)
			badgeGroup.DELETE("/prints/:id", writeAuth, badgeHandler.DeletePrint)
		}
	}

	internal := router.Group("/internal/v1")
	internal.Use(middleware.InternalSecretMiddleware(cfg.API.InternalSecret))
	{
		internal.GET("/badges/:visitorId/print-data", badgeHandler.GetInternalPrintData)
	}
}
