package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/xela07ax/clearing-house/internal/chain"
	"github.com/xela07ax/clearing-house/internal/infra"
	"github.com/xela07ax/clearing-house/internal/repository"
	mongorepo "github.com/xela07ax/clearing-house/internal/repository/mongo"
	"github.com/xela07ax/clearing-house/internal/repository/postgres"
)

// Офлайн-верификатор hash chain: проходит весь глобальный лог по tc
// и сверяет каждую ссылку. Запускается оператором против живой базы.
func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var buckets repository.BucketRepository
	switch cfg.Database.Driver {
	case "postgres":
		st, err := postgres.NewStore(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer st.Close()
		buckets = st
	case "mongo":
		st, err := mongorepo.NewStore(ctx, cfg.Database.MongoURI, cfg.Database.MongoDB)
		if err != nil {
			log.Fatalf("mongo: %v", err)
		}
		defer st.Close(context.Background()) //nolint:errcheck
		buckets = st
	default:
		log.Fatalf("chainverify requires postgres or mongo driver, got %q", cfg.Database.Driver)
	}

	started := time.Now()
	checked, err := chain.Verify(ctx, buckets)
	if err != nil {
		fmt.Printf("FAIL after %d documents (%s): %v\n", checked, time.Since(started).Round(time.Millisecond), err)
		os.Exit(1)
	}
	fmt.Printf("OK: %d documents verified in %s\n", checked, time.Since(started).Round(time.Millisecond))
}
