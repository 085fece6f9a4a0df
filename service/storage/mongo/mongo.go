package mongo

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	mgoOnce sync.Once
	mgoMgr  *Manager
)

type Manager struct {
	client *mongo.Client
	db     *mongo.Database
}

// InitMongo 初始化 Mongo 连接（单例）
func InitMongo(uri, database string) error {
	var initErr error
	mgoOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cli, err := mongo.Connect(ctx, options.Client().
			ApplyURI(uri).
			SetMaxPoolSize(100).
			SetMinPoolSize(5))
		if err != nil {
			initErr = err
			return
		}
		if err := cli.Ping(ctx, readpref.Primary()); err != nil {
			initErr = err
			return
		}
		mgoMgr = &Manager{client: cli, db: cli.Database(database)}
	})
	return initErr
}

func GetDB() *mongo.Database {
	if mgoMgr == nil {
		panic("Mongo not initialized, call InitMongo first")
	}
	return mgoMgr.db
}

func CloseMongo() error {
	if mgoMgr != nil && mgoMgr.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return mgoMgr.client.Disconnect(ctx)
	}
	return nil
}
