package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// RateLimit builds a per-IP limiter backed by Redis. perMinute <= 0
// disables limiting.
func RateLimit(rdb *redis.Client, perMinute int) (gin.HandlerFunc, error) {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }, nil
	}

	store, err := sredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix: "ratelimit",
	})
	if err != nil {
		return nil, err
	}

	rate := limiter.Rate{
		Period: time.Minute,
		Limit:  int64(perMinute),
	}
	return mgin.NewMiddleware(limiter.New(store, rate)), nil
}
