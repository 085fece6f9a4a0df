package main

import (
	"context"
	"flag"
	"hash/crc32"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"socialgw/global/config"
	"socialgw/logger"
	"socialgw/middleware"
	"socialgw/module/callhistory"
	"socialgw/module/message"
	"socialgw/service/kafka"
	"socialgw/service/natsx"
	"socialgw/service/relay"
	"socialgw/service/storage"
	mongox "socialgw/service/storage/mongo"
	redisx "socialgw/service/storage/redis"
	"socialgw/tools/ids"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "c", "", "config file path (yaml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Errorf("[main] load config failed: %v", err)
		os.Exit(1)
	}

	// 雪花 id 的 worker 位由节点名导出，避免多节点撞 id
	ids.SetNodeID(int64(crc32.ChecksumIEEE([]byte(cfg.NodeID)) % 1024))

	// Mongo 是消息主存储，必选
	if cfg.Mongo.URI == "" {
		logger.Error("[main] mongo.uri is required")
		os.Exit(1)
	}
	if err := mongox.InitMongo(cfg.Mongo.URI, cfg.Mongo.Database); err != nil {
		logger.Errorf("[main] init mongo failed: %v", err)
		os.Exit(1)
	}
	defer mongox.CloseMongo()

	store := message.NewStore(mongox.GetDB())
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.EnsureIndexes(ctx); err != nil {
			logger.Warnf("[main] ensure indexes failed: %v", err)
		}
		cancel()
	}

	srv := relay.NewServer(relay.Options{
		NodeID:        cfg.NodeID,
		JwtSecret:     cfg.JwtSecret,
		SendQueueSize: cfg.SendQueueSize,
		OfflineBatch:  cfg.OfflineBatch,
		RingTimeout:   cfg.Call.RingTimeout,
	}, store)

	// Redis：在线镜像 + 离线队列 + 未读数，单机部署可不配
	var presenceMirror *storage.PresenceMirror
	var unread *storage.UnreadCounters
	if cfg.Redis.Addr != "" {
		if err := redisx.InitRedis(redisx.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}); err != nil {
			logger.Errorf("[main] init redis failed: %v", err)
			os.Exit(1)
		}
		defer redisx.CloseRedis()

		presenceMirror = storage.NewPresenceMirror()
		unread = storage.NewUnreadCounters()
		srv.SetPresence(presenceMirror)
		srv.SetOffline(storage.NewOfflineQueue())
		srv.SetCounters(unread)
	}

	// Postgres：通话历史
	var calls *callhistory.Store
	if cfg.Pg.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		calls, err = callhistory.New(ctx, cfg.Pg.DSN)
		cancel()
		if err != nil {
			logger.Errorf("[main] init pg failed: %v", err)
			os.Exit(1)
		}
		defer calls.Close()
		srv.SetCallHistory(calls)
	}

	// NATS：跨节点转发，依赖 Redis 在线镜像做节点定位
	if cfg.Nats.URL != "" {
		if presenceMirror == nil {
			logger.Error("[main] nats needs redis presence mirror")
			os.Exit(1)
		}
		lookup := func(userID string) (string, bool) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			node, online, err := presenceMirror.Lookup(ctx, userID)
			if err != nil {
				logger.Warnf("[main] presence lookup failed: %v", err)
				return "", false
			}
			return node, online
		}
		nx, err := natsx.New(cfg.Nats.URL, cfg.NodeID, lookup)
		if err != nil {
			logger.Errorf("[main] init nats failed: %v", err)
			os.Exit(1)
		}
		defer nx.Close()
		if err := nx.SubscribeDeliver(srv.DeliverLocal); err != nil {
			logger.Errorf("[main] subscribe deliver failed: %v", err)
			os.Exit(1)
		}
		if err := nx.SubscribePresence(srv.HandleRemotePresence); err != nil {
			logger.Errorf("[main] subscribe presence failed: %v", err)
			os.Exit(1)
		}
		srv.SetCrossRelay(nx)
	}

	// Kafka：消息异步归档
	if len(cfg.Kafka.Brokers) > 0 {
		archiver, err := kafka.NewArchiver(cfg.Kafka.Brokers, cfg.Kafka.TopicPattern, cfg.Kafka.TopicCount)
		if err != nil {
			logger.Errorf("[main] init kafka failed: %v", err)
			os.Exit(1)
		}
		defer archiver.Close()
		srv.SetArchiver(archiver)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Cors())

	r.GET("/ws", srv.HandleWS)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"node":   cfg.NodeID,
			"online": srv.Registry().OnlineCount(),
		})
	})
	r.GET("/online/:user", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user":   c.Param("user"),
			"online": srv.Registry().IsOnline(c.Param("user")),
		})
	})
	r.GET("/history/:chat", func(c *gin.Context) {
		msgs, err := store.History(c.Request.Context(), c.Param("chat"), 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	})
	if calls != nil {
		r.GET("/calls/:a/:b", func(c *gin.Context) {
			list, err := calls.ListBetween(c.Request.Context(), c.Param("a"), c.Param("b"), 50)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"calls": list})
		})
	}
	if unread != nil {
		r.GET("/unread/:user", func(c *gin.Context) {
			total, err := unread.TotalUnread(c.Request.Context(), c.Param("user"))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"user": c.Param("user"), "unread": total})
		})
	}

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Infof("[main] gateway %s listening on %s", cfg.NodeID, cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[main] http serve failed: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("[main] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	srv.Close()
}
