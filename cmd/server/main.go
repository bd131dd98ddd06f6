// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"diagnosify-go/internal/config"
	"diagnosify-go/internal/handler"
	"diagnosify-go/internal/middleware"
	"diagnosify-go/internal/pipeline"
	"diagnosify-go/internal/repository"
	"diagnosify-go/internal/retriever"
	"diagnosify-go/internal/service"
	"diagnosify-go/internal/session"
	"diagnosify-go/internal/vectorindex"
	"diagnosify-go/internal/vectorindex/elastic"
	"diagnosify-go/internal/vectorindex/memory"
	"diagnosify-go/pkg/database"
	"diagnosify-go/pkg/embedding"
	"diagnosify-go/pkg/kafka"
	"diagnosify-go/pkg/llm"
	"diagnosify-go/pkg/log"
	"diagnosify-go/pkg/storage"
	"diagnosify-go/pkg/tika"
	"diagnosify-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库与对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)

	// 4. 初始化 Repository
	reportRepo := repository.NewReportRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)
	// 评估记录库：未配置 MongoDB 时使用进程内实现
	var evaluationRepo repository.EvaluationRepository
	if cfg.Mongo.URI != "" {
		evaluationRepo = repository.NewEvaluationRepository(cfg.Mongo)
	} else {
		log.Warn("未配置 mongo.uri, 评估记录仅保存在内存中")
		evaluationRepo = repository.NewMemoryEvaluationRepository()
	}

	// 5. 初始化外部服务客户端。索引与查询共用同一个 embedding 客户端实例。
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	// 6. 按配置选择向量索引后端
	newIndex, err := buildIndexFactory(cfg)
	if err != nil {
		log.Fatalf("初始化向量索引后端失败: %v", err)
	}

	// 7. 组装核心管线
	splitter, err := pipeline.NewSplitter(cfg.Chat.Index.ChunkSize, cfg.Chat.Index.ChunkOverlap)
	if err != nil {
		log.Fatalf("初始化分块器失败: %v", err)
	}
	indexer := pipeline.NewIndexer(tikaClient, embeddingClient, splitter, newIndex, "")

	chunkRetriever, err := retriever.New(embeddingClient, cfg.Chat.Retrieval.TopK, cfg.Chat.Retrieval.FetchK, cfg.Chat.Retrieval.MMRLambda)
	if err != nil {
		log.Fatalf("初始化检索器失败: %v", err)
	}

	// 8. 初始化 Service (依赖注入)
	sessions := session.NewManager()
	ticketManager := token.NewTicketManager(cfg.Ticket.Secret, cfg.Ticket.ExpireMinutes)
	documentService := service.NewDocumentService(reportRepo, indexer, tikaClient, cfg.MinIO.BucketName)
	reportService := service.NewReportService(llmClient, reportRepo)
	evaluationService := service.NewEvaluationService(llm.NewClient(evaluationLLMConfig(cfg)), evaluationRepo)

	// 评估任务的投递方式：配置了 Kafka 走消息队列，否则进程内异步处理
	var publisher service.TaskPublisher
	if cfg.Evaluation.Enabled {
		if cfg.Kafka.Brokers != "" {
			publisher = kafka.NewProducer(cfg.Kafka)
			go kafka.StartConsumer(cfg.Kafka, evaluationService)
		} else {
			log.Info("未配置 Kafka, 评估任务在进程内异步处理")
			publisher = service.NewInProcessPublisher(evaluationService)
		}
	} else {
		log.Warn("忠实度评估已禁用, 问答交互不会产生评估记录")
	}

	chatService := service.NewChatService(chunkRetriever, conversationRepo, llmClient, publisher, cfg.Chat.Prompt)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 10. 注册路由
	sessionHandler := handler.NewSessionHandler(sessions, documentService, conversationRepo, ticketManager)
	documentHandler := handler.NewDocumentHandler(sessions, documentService, reportService)
	evaluationHandler := handler.NewEvaluationHandler(evaluationService)
	chatHandler := handler.NewChatHandler(chatService, sessions, ticketManager)

	apiV1 := r.Group("/api/v1")
	{
		sessionGroup := apiV1.Group("/sessions")
		{
			sessionGroup.POST("", sessionHandler.Create)
			sessionGroup.POST("/:id/ticket", sessionHandler.Ticket)
			sessionGroup.POST("/:id/index", sessionHandler.BuildIndex)
			sessionGroup.POST("/:id/reset", sessionHandler.Reset)
			sessionGroup.DELETE("/:id", sessionHandler.Destroy)

			sessionGroup.POST("/:id/reports", documentHandler.Upload)
			sessionGroup.GET("/:id/reports", documentHandler.List)
			sessionGroup.GET("/:id/reports/:md5/url", documentHandler.DownloadURL)
			sessionGroup.POST("/:id/reports/:md5/analyze", documentHandler.Analyze)
			sessionGroup.GET("/:id/analyses", documentHandler.Analyses)
		}

		apiV1.GET("/evaluations", evaluationHandler.History)
	}
	// Chat 路由 (WebSocket)，通过 query 中的票据关联会话
	r.GET("/chat/ws", chatHandler.Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// buildIndexFactory 按配置构造向量索引工厂。
// memory 后端为进程内索引；elasticsearch 后端每次构建新建物理索引。
func buildIndexFactory(cfg config.Config) (pipeline.IndexFactory, error) {
	switch cfg.Chat.Index.Backend {
	case "memory":
		return func() (vectorindex.Index, error) {
			return memory.New(), nil
		}, nil
	case "elasticsearch":
		esClient, err := elastic.NewESClient(cfg.Chat.Index.Elasticsearch)
		if err != nil {
			return nil, fmt.Errorf("初始化 Elasticsearch 客户端失败: %w", err)
		}
		prefix := cfg.Chat.Index.Elasticsearch.IndexPrefix
		if prefix == "" {
			prefix = "diagnosify-chunks"
		}
		dims := cfg.Embedding.Dimensions
		return func() (vectorindex.Index, error) {
			return elastic.New(esClient, prefix, uuid.NewString(), dims)
		}, nil
	default:
		return nil, fmt.Errorf("未知的索引后端: %s", cfg.Chat.Index.Backend)
	}
}

// evaluationLLMConfig 组装评估专用的 LLM 配置，
// 未单独配置时回退到主 LLM 的凭证。
func evaluationLLMConfig(cfg config.Config) config.LLMConfig {
	evalCfg := config.LLMConfig{
		APIKey:         cfg.Evaluation.APIKey,
		BaseURL:        cfg.Evaluation.BaseURL,
		Model:          cfg.Evaluation.Model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	}
	if evalCfg.APIKey == "" {
		evalCfg.APIKey = cfg.LLM.APIKey
	}
	if evalCfg.BaseURL == "" {
		evalCfg.BaseURL = cfg.LLM.BaseURL
	}
	if evalCfg.Model == "" {
		evalCfg.Model = cfg.LLM.Model
	}
	return evalCfg
}
