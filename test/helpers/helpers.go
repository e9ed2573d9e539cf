//go:build integration

// Package helpers provides shared setup for integration tests that run
// against real Redis and Keycloak instances.
package helpers

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisURL is the default Redis address used by integration tests.
	DefaultRedisURL = "redis://127.0.0.1:6379"
	// DefaultKeycloakAddr is the default Keycloak address.
	DefaultKeycloakAddr = "http://127.0.0.1:8090"
	// DefaultKeycloakRealm is the default test realm.
	DefaultKeycloakRealm = "avabearer-test"
	// DefaultKeycloakClientID is the default client ID.
	DefaultKeycloakClientID = "avabearer"
	// DefaultKeycloakClientSecret is the default client secret.
	DefaultKeycloakClientSecret = "avabearer-secret"
	// DefaultKeycloakAudience is the audience the realm maps into tokens.
	DefaultKeycloakAudience = "avabearer-api"
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetRedisURL returns the Redis URL from TEST_REDIS_URL or the default.
func GetRedisURL() string {
	return getEnvOrDefault("TEST_REDIS_URL", DefaultRedisURL)
}

// CreateRedisClient creates a Redis client for GetRedisURL.
func CreateRedisClient() (*redis.Client, error) {
	opts, err := redis.ParseURL(GetRedisURL())
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

// IsRedisAvailable reports whether Redis answers a ping.
func IsRedisAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := CreateRedisClient()
	if err != nil {
		return false
	}
	defer client.Close()

	return client.Ping(ctx).Err() == nil
}

// SkipIfRedisUnavailable skips the test if Redis is not available.
func SkipIfRedisUnavailable(t *testing.T) {
	t.Helper()
	if !IsRedisAvailable() {
		t.Skip("Redis not available at", GetRedisURL(), "- skipping test")
	}
}

// CleanupRedis removes all keys with the given prefix.
func CleanupRedis(client *redis.Client, prefix string) error {
	ctx := context.Background()
	iter := client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// GenerateTestKeyPrefix returns a key prefix unique to this run.
func GenerateTestKeyPrefix(testName string) string {
	return fmt.Sprintf("test:%s:%d:", testName, time.Now().UnixNano())
}
