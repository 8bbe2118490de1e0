package database

import (
	"fmt"
	"sync"
	"time"
)

// DatabasePool holds the process-wide store instance so warm invocations
// reuse one connection pool instead of reconnecting per request.
type DatabasePool struct {
	instance StoreInterface
	config   DatabaseConfig
	mu       sync.RWMutex
	lastUsed time.Time
}

var (
	globalPool *DatabasePool
	poolMutex  sync.Mutex
)

// GetDatabase returns the shared store, recreating it when the configuration
// changed, the connection went idle too long, or the health check fails.
func GetDatabase(config DatabaseConfig) StoreInterface {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil || shouldRecreateConnection(globalPool, config) {
		if globalPool != nil && globalPool.instance != nil {
			globalPool.instance.Close()
		}

		instance := NewDatabase(config)
		globalPool = &DatabasePool{
			instance: instance,
			config:   config,
			lastUsed: time.Now(),
		}
	} else {
		globalPool.mu.Lock()
		globalPool.lastUsed = time.Now()
		globalPool.mu.Unlock()
	}

	return globalPool.instance
}

func shouldRecreateConnection(pool *DatabasePool, newConfig DatabaseConfig) bool {
	if pool == nil || pool.instance == nil {
		return true
	}

	if pool.config != newConfig {
		fmt.Printf("[info] database configuration changed, recreating connection\n")
		return true
	}

	pool.mu.RLock()
	expired := time.Since(pool.lastUsed) > 30*time.Minute
	pool.mu.RUnlock()

	if expired {
		fmt.Printf("[info] database connection expired, recreating\n")
		return true
	}

	if err := pool.instance.HealthCheck(); err != nil {
		fmt.Printf("[warn] database health check failed, recreating: %v\n", err)
		return true
	}

	return false
}

// CleanupIdleConnections closes the pooled connection after 10 idle minutes.
// Safe to call periodically from a background goroutine.
func CleanupIdleConnections() {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return
	}

	globalPool.mu.RLock()
	idle := time.Since(globalPool.lastUsed) > 10*time.Minute
	globalPool.mu.RUnlock()

	if idle {
		if globalPool.instance != nil {
			globalPool.instance.Close()
		}
		globalPool = nil
	}
}

// GetConnectionStats reports pool state for the health endpoint.
func GetConnectionStats() map[string]interface{} {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return map[string]interface{}{
			"status":    "no_connection",
			"last_used": nil,
		}
	}

	globalPool.mu.RLock()
	lastUsed := globalPool.lastUsed
	globalPool.mu.RUnlock()

	return map[string]interface{}{
		"status":    "connected",
		"last_used": lastUsed.Format(time.RFC3339),
		"age":       time.Since(lastUsed).String(),
		"config": map[string]interface{}{
			"use_memory":   globalPool.config.UseMemory,
			"has_postgres": globalPool.config.PostgresDSN != "",
		},
	}
}
