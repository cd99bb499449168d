package main

import (
	"context"
	"errors"
	"flag"
	"hash/fnv"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPChat/global/config"
	"PPChat/logger"
	mid "PPChat/middleware"
	midsec "PPChat/middleware/security"
	"PPChat/module/chat/api"
	"PPChat/module/chat/store"
	"PPChat/service/auth"
	"PPChat/service/chat"
	"PPChat/service/dispatcher"
	"PPChat/service/kafka"
	"PPChat/service/metrics"
	mgoSrv "PPChat/service/mgo"
	"PPChat/service/natsx"
	"PPChat/service/storage"
	redis "PPChat/service/storage/redis"
	"PPChat/tools/ids"
	"PPChat/tools/safe"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthService = "ppchat.Chat"

func main() {
	path, err := config.ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		logger.Log.Fatal("flags", zap.Error(err))
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Log.Fatal("load config", zap.String("path", path), zap.Error(err))
	}
	config.Set(cfg)
	logger.SetLevel(cfg.Log.Level)
	ids.SetNodeID(nodeNumber(cfg.Chat.NodeID))
	logger.Info("config loaded", zap.String("path", path), zap.String("node", cfg.Chat.NodeID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1) mongo 后台连接，每次连上都确保索引和 general 频道
	mgoSrv.Manager().OnConnect(func(ctx context.Context, db *mongo.Database) {
		if err := store.EnsureIndexes(ctx, db); err != nil {
			logger.Error("ensure indexes", zap.Error(err))
		}
		general, err := store.EnsureGeneral(ctx, store.NewMongoStore(store.FixedDB(db)))
		if err != nil {
			logger.Error("seed general channel", zap.Error(err))
			return
		}
		logger.Debug("general channel", zap.String("id", general.ID))
	})
	mgoSrv.StartAsync(ctx, cfg.MongoOptions())
	st := store.NewMongoStore(mgoSrv.TryGetDB)
	safe.Go("mongo-ready", func() {
		if err := mgoSrv.WaitReady(ctx); err == nil {
			logger.Info("mongo ready", zap.String("database", cfg.Mongo.Database))
		}
	})

	// 2) 网关
	gate := auth.NewGate(cfg.SecurityOptions(), st)
	srv := chat.NewServer(cfg.ChatConf(), st, gate)
	rest := api.New(st, gate, srv)

	if cfg.Redis.Enabled {
		startPresenceMirror(ctx, cfg, srv, rest)
	}
	exporter := startExport(cfg)
	if exporter != nil {
		srv.SetExporter(exporter)
	}

	// 3) HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), mid.Logger())
	mid.Manager().Add(mid.CORS(cfg.Server.AllowedOrigins))
	if cfg.Server.RateRPS > 0 {
		mid.Manager().Add(mid.RateLimit(cfg.Server.RateRPS, cfg.Server.RateBurst))
	}
	r.Use(mid.Manager().Use())
	mid.SetAuth(midsec.Middleware(gate))

	r.GET("/ws", srv.HandleWS)
	rest.Register(r)
	r.GET("/metrics", metrics.Handler())
	r.GET("/healthz", func(c *gin.Context) {
		if _, ok := mgoSrv.TryGetDB(); !ok {
			body := gin.H{"status": "starting", "mongo": false}
			if err := mgoSrv.Manager().Err(); err != nil {
				body["error"] = err.Error()
			}
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mongo": true, "connections": srv.Registry().Count()})
	})

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	safe.Go("http", func() {
		logger.Info("http listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	})

	// 4) gRPC 健康检查
	var gs *grpc.Server
	var hs *health.Server
	if cfg.Server.GrpcAddr != "" {
		gs, hs = startGrpcHealth(cfg.Server.GrpcAddr, stop)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if hs != nil {
		hs.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownWait)
	defer cancel()
	srv.Shutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if gs != nil {
		gs.GracefulStop()
	}
	if exporter != nil {
		if err := exporter.Close(shutdownCtx); err != nil {
			logger.Warn("export shutdown", zap.Error(err))
		}
	}
	if cfg.Redis.Enabled {
		_ = redis.CloseRedis()
	}
	mgoSrv.Manager().Close()
	_ = logger.Log.Sync()
}

// nodeNumber 节点名映射到雪花算法的机器号
func nodeNumber(name string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum32() % 1024)
}

// startPresenceMirror redis 不可用时只记日志，在线状态仍在本进程内工作
func startPresenceMirror(ctx context.Context, cfg *config.AppConfig, srv *chat.Server, rest *api.API) {
	rdb, err := redis.InitRedis(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("redis unavailable, presence mirror disabled", zap.Error(err))
		return
	}
	mirror := storage.NewPresenceMirror(rdb, cfg.Chat.NodeID, cfg.Redis.PresenceTTL)
	srv.SetPresenceMirror(mirror)
	rest.SetPresenceLookup(mirror)
	safe.Go("presence-keepalive", func() {
		srv.Presence().KeepAlive(ctx, mirror.TTL()/3)
	})
	logger.Info("presence mirror enabled", zap.String("addr", cfg.Redis.Addr))
}

// startExport nats 优先，其次 kafka；都没开返回 nil
func startExport(cfg *config.AppConfig) *dispatcher.Queue {
	var sink dispatcher.Sink
	switch {
	case cfg.Nats.Enabled:
		mgr, err := natsx.StartNats(cfg.NatsOptions(), dispatcher.NatsRoutes(cfg.Nats.SubjectPrefix, cfg.Nats.JetStream)...)
		if err != nil {
			logger.Error("nats unavailable, export disabled", zap.Error(err))
			return nil
		}
		sink = dispatcher.NewNatsSink(mgr, natsx.StopNats)
		logger.Info("export to nats", zap.Strings("servers", cfg.Nats.Servers), zap.Bool("jetstream", cfg.Nats.JetStream))
	case cfg.Kafka.Enabled:
		kc, err := cfg.KafkaOptions()
		if err != nil {
			logger.Error("kafka config", zap.Error(err))
			return nil
		}
		p, err := kafka.NewSyncProducer(kc)
		if err != nil {
			logger.Error("kafka unavailable, export disabled", zap.Error(err))
			return nil
		}
		sink = dispatcher.NewKafkaSink(p, kc.Topic)
		logger.Info("export to kafka", zap.Strings("brokers", kc.Brokers), zap.String("topic", kc.Topic))
	default:
		return nil
	}
	q := dispatcher.NewQueue(sink, cfg.Chat.ExportQueue, cfg.Chat.TxTimeout)
	q.Start()
	return q
}

func startGrpcHealth(addr string, stop func()) (*grpc.Server, *health.Server) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("grpc listen", zap.String("addr", addr), zap.Error(err))
		stop()
		return nil, nil
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	safe.Go("grpc", func() {
		logger.Info("grpc health listening", zap.String("addr", addr))
		if err := gs.Serve(lis); err != nil {
			logger.Error("grpc server", zap.Error(err))
		}
	})
	return gs, hs
}
