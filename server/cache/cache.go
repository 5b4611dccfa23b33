package cache

import (
	"crypto/md5"
	"errors"
	"fmt"
)

var ErrCacheMiss = errors.New("cache miss")

type CacheStats struct {
	Items   int   `json:"items"`
	Expired int   `json:"expired"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	MaxSize int   `json:"max_size"`
}

func GenerateCacheKey(components ...string) string {
	h := md5.New()
	for _, component := range components {
		h.Write([]byte(component))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func HashBytes(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}
