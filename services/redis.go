package services

import (
	"context"
	"fmt"

	"github.com/EvgeniiGolubev/backend-test-task/config"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient подключается к redis и проверяет соединение
func NewRedisClient(ctx context.Context, conf *config.ConfigSchema) (*redis.Client, error) {
	if conf == nil {
		return nil, fmt.Errorf("AppConfig is not loaded")
	}

	redisConfig := conf.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
