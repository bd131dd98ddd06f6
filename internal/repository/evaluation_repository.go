package repository

import (
	"context"
	"errors"
	"fmt"

	"diagnosify-go/internal/config"
	"diagnosify-go/internal/model"
	"diagnosify-go/pkg/log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrStorageUnavailable 表示评估记录库连接不可用。
var ErrStorageUnavailable = errors.New("评估记录库连接失败")

// EvaluationRepository 定义了评估记录的持久化接口。
// 记录只追加、创建后不可变；不提供更新与删除操作。
type EvaluationRepository interface {
	// Insert 写入一条评估记录，单次原子插入。
	Insert(ctx context.Context, record model.EvaluationRecord) error
	// FindByUserID 按插入顺序返回该用户的全部记录；
	// 无记录时返回空切片而非错误。
	FindByUserID(ctx context.Context, userID string) ([]model.EvaluationRecord, error)
}

type mongoEvaluationRepository struct {
	cfg config.MongoConfig
}

// NewEvaluationRepository 创建一个基于 MongoDB 的 EvaluationRepository。
// 连接按操作建立并在操作结束后立即关闭，不维护共享连接状态。
func NewEvaluationRepository(cfg config.MongoConfig) EvaluationRepository {
	return &mongoEvaluationRepository{cfg: cfg}
}

// connect 建立一次性的 MongoDB 连接。
func (r *mongoEvaluationRepository) connect(ctx context.Context) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(r.cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return client, nil
}

func (r *mongoEvaluationRepository) collection(client *mongo.Client) *mongo.Collection {
	return client.Database(r.cfg.Database).Collection(r.cfg.Collection)
}

// Insert 写入一条评估记录。
func (r *mongoEvaluationRepository) Insert(ctx context.Context, record model.EvaluationRecord) error {
	client, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if disconnectErr := client.Disconnect(ctx); disconnectErr != nil {
			log.Warnf("[EvaluationRepository] 断开 MongoDB 连接失败: %v", disconnectErr)
		}
	}()

	result, err := r.collection(client).InsertOne(ctx, record)
	if err != nil {
		return fmt.Errorf("写入评估记录失败: %w", err)
	}
	log.Infof("[EvaluationRepository] 评估记录写入成功, doc id: %v", result.InsertedID)
	return nil
}

// FindByUserID 检索该用户的全部评估记录。
// 集合只追加，游标自然序即插入序。
func (r *mongoEvaluationRepository) FindByUserID(ctx context.Context, userID string) ([]model.EvaluationRecord, error) {
	client, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if disconnectErr := client.Disconnect(ctx); disconnectErr != nil {
			log.Warnf("[EvaluationRepository] 断开 MongoDB 连接失败: %v", disconnectErr)
		}
	}()

	cursor, err := r.collection(client).Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("查询评估记录失败: %w", err)
	}
	defer cursor.Close(ctx)

	records := []model.EvaluationRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("解析评估记录失败: %w", err)
	}
	log.Infof("[EvaluationRepository] 查询到 %d 条评估记录, user_id: %s", len(records), userID)
	return records, nil
}
