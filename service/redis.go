package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/TIANLI0/CloneKit/config"
	"github.com/TIANLI0/CloneKit/model"
	"github.com/TIANLI0/CloneKit/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func selectionKey(id string) string {
	return "selection:" + id
}

// GetSelection 从缓存获取分割结果，未命中返回 nil, nil
func (s *RedisService) GetSelection(ctx context.Context, id string) (*model.SelectionResult, error) {
	data, err := s.client.Get(ctx, selectionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var result model.SelectionResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal selection result",
			zap.String("id", id), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

// SetSelection 设置分割结果到缓存
func (s *RedisService) SetSelection(ctx context.Context, id string, result *model.SelectionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, selectionKey(id), data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
