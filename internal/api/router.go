package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/docstream/corpusd/internal/api/handler"
	"github.com/docstream/corpusd/internal/api/middleware"
	"github.com/docstream/corpusd/internal/repository"
	"github.com/docstream/corpusd/internal/service"
)

// SetupRouter configures the Gin router with all routes.
func SetupRouter(
	db *gorm.DB,
	intake *service.IntakeService,
	retrieval *service.RetrievalService,
	webhooks *service.WebhookService,
	jobs *repository.JobRepository,
	docs *repository.DocumentRepository,
	chunks *repository.ChunkRepository,
	index *repository.QdrantRepository,
	mode string,
	cors middleware.CORSConfig,
) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cors))

	healthHandler := handler.NewHealthHandler(db)
	uploadHandler := handler.NewUploadHandler(intake)
	jobHandler := handler.NewJobHandler(jobs, docs)
	webhookHandler := handler.NewWebhookHandler(webhooks)
	retrieveHandler := handler.NewRetrieveHandler(retrieval)
	documentHandler := handler.NewDocumentHandler(docs, chunks, index)

	r.GET("/health", healthHandler.Health)

	// Provider callbacks authenticate with per-job signatures, not owner
	// headers.
	r.POST("/webhook/parse/:job_id", webhookHandler.ParseCallback)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.RequireOwner())
	{
		v1.POST("/documents", uploadHandler.Upload)
		v1.GET("/documents", documentHandler.ListDocuments)
		v1.GET("/documents/:id", documentHandler.GetDocument)
		v1.GET("/documents/:id/chunks", documentHandler.ListChunks)
		v1.DELETE("/documents/:id", documentHandler.DeleteDocument)

		v1.GET("/jobs/:id", jobHandler.GetJob)

		v1.POST("/retrieve", retrieveHandler.Retrieve)
	}

	return r
}
