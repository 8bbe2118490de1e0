package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"table-service-backend/pkg/database"
	"table-service-backend/pkg/locks"
)

// Deletes row locks older than the TTL. Run from cron every minute; editors
// who walked away without saving lose their lock after five minutes and the
// row becomes editable again.
func main() {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("[error] POSTGRES_DSN is required")
	}

	ttl := locks.DefaultTTL
	if raw := os.Getenv("LOCK_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("[error] invalid LOCK_TTL %q: %v", raw, err)
		}
		ttl = parsed
	}

	store := database.NewPostgresStore(dsn)
	defer store.Close()

	manager := locks.NewManager(store, ttl)
	reaped, err := manager.ReapExpired(time.Now())
	if err != nil {
		log.Fatalf("[error] reap failed: %v", err)
	}

	fmt.Printf("[info] reaped %d expired row locks (ttl %s)\n", reaped, ttl)
}
