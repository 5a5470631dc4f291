package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/honeynil/venue-ledger/internal/config"
	"github.com/honeynil/venue-ledger/internal/infrastructure/auth"
	"github.com/honeynil/venue-ledger/internal/infrastructure/redis"
)

func main() {
	cfg := config.Load()

	id := flag.Int64("id", 0, "operator id")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	revoke := flag.Bool("revoke", false, "revoke the active token instead of issuing one")
	flag.Parse()

	if *id <= 0 {
		fmt.Println("Error: -id is required")
		fmt.Println("Usage: go run ./cmd/operator-token -id 42 [-ttl 12h] [-revoke]")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisClient, err := redis.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("Redis error: %v", err)
	}
	defer redisClient.Close()

	if *revoke {
		if err := auth.RevokeOperatorToken(ctx, redisClient, *id); err != nil {
			log.Fatalf("Revoke error: %v", err)
		}
		fmt.Printf("Token of operator %d revoked\n", *id)
		return
	}

	token, err := auth.IssueOperatorToken(ctx, redisClient, auth.NewTokenService(cfg.JWTSecret, *ttl), *id)
	if err != nil {
		log.Fatalf("Issue error: %v", err)
	}
	fmt.Println(token)
}
