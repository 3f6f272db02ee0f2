package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	"github.com/agentworkforce/driverelay/internal/credstore"
	"github.com/agentworkforce/driverelay/internal/driverelay"
	"github.com/agentworkforce/driverelay/internal/httpapi"
)

func main() {
	addr := os.Getenv("DRIVERELAY_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	queue, credentialStore, err := buildStorageBackendsFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize storage backends: %v", err)
	}

	provider, err := driverelay.BuildProviderClientFromDSN(os.Getenv("DRIVERELAY_PROVIDER_DSN"))
	if err != nil {
		log.Fatalf("failed to initialize storage provider: %v", err)
	}
	if provider == nil {
		log.Fatalf("DRIVERELAY_PROVIDER_DSN is required")
	}

	gateway := driverelay.NewHTTPGatewayClient(driverelay.GatewayHTTPClientOptions{
		BaseURL:       requireEnv("DRIVERELAY_GATEWAY_BASE_URL"),
		TokenProvider: gatewayTokenFromEnv(),
		UserAgent:     "driverelay/1.0",
	})

	relay := driverelay.NewRelayWithOptions(driverelay.RelayOptions{
		Queue:            queue,
		QueueSize:        intEnv("DRIVERELAY_UPLOAD_QUEUE_SIZE", 0),
		StagingDir:       os.Getenv("DRIVERELAY_STAGING_DIR"),
		MaxFileSizeBytes: int64Env("DRIVERELAY_MAX_FILE_SIZE_BYTES", 0),
		ChunkThreshold:   int64Env("DRIVERELAY_CHUNK_THRESHOLD_BYTES", 0),
		ProgressInterval: durationEnv("DRIVERELAY_PROGRESS_INTERVAL", 0),
		RateLimitMax:     intEnv("DRIVERELAY_ADMISSION_RATE_LIMIT_MAX", 10),
		RateLimitWindow:  durationEnv("DRIVERELAY_ADMISSION_RATE_LIMIT_WINDOW", time.Minute),
		MaxTrackedTasks:  intEnv("DRIVERELAY_MAX_TRACKED_TASKS", 0),
		Fetcher:          gateway,
		Notifier:         gateway,
		Credentials:      credstore.NewResolver(credentialStore, oauthConfigFromEnv()),
		Provider:         provider,
	})
	defer relay.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if eventsURL := strings.TrimSpace(os.Getenv("DRIVERELAY_GATEWAY_EVENTS_URL")); eventsURL != "" {
		listener, err := driverelay.NewEventListener(driverelay.ListenerOptions{
			URL:            eventsURL,
			Token:          os.Getenv("DRIVERELAY_GATEWAY_TOKEN"),
			Handler:        relay,
			ReconnectDelay: durationEnv("DRIVERELAY_EVENTS_RECONNECT_DELAY", 0),
		})
		if err != nil {
			log.Fatalf("failed to initialize event listener: %v", err)
		}
		go func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("event listener stopped: %v", err)
			}
		}()
	}

	server := httpapi.NewServerWithConfig(relay, httpapi.ServerConfig{
		JWTSecret:          os.Getenv("DRIVERELAY_JWT_SECRET"),
		InternalHMACSecret: os.Getenv("DRIVERELAY_INTERNAL_HMAC_SECRET"),
		InternalMaxSkew:    durationEnv("DRIVERELAY_INTERNAL_MAX_SKEW", 5*time.Minute),
		RateLimitMax:       intEnv("DRIVERELAY_RATE_LIMIT_MAX", 0),
		RateLimitWindow:    durationEnv("DRIVERELAY_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:       int64Env("DRIVERELAY_MAX_BODY_BYTES", 0),
	})

	httpServer := &http.Server{Addr: addr, Handler: server}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("driverelay listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}

func requireEnv(name string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		log.Fatalf("%s is required", name)
	}
	return value
}

func gatewayTokenFromEnv() driverelay.GatewayAccessTokenProvider {
	token := strings.TrimSpace(os.Getenv("DRIVERELAY_GATEWAY_TOKEN"))
	if token == "" {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

func oauthConfigFromEnv() *oauth2.Config {
	clientID := strings.TrimSpace(os.Getenv("DRIVERELAY_OAUTH_CLIENT_ID"))
	tokenURL := strings.TrimSpace(os.Getenv("DRIVERELAY_OAUTH_TOKEN_URL"))
	if clientID == "" || tokenURL == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: os.Getenv("DRIVERELAY_OAUTH_CLIENT_SECRET"),
		Endpoint: oauth2.Endpoint{
			AuthURL:  strings.TrimSpace(os.Getenv("DRIVERELAY_OAUTH_AUTH_URL")),
			TokenURL: tokenURL,
		},
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func buildStorageBackendsFromEnv() (driverelay.UploadQueue, credstore.Store, error) {
	profileQueueDSN, profileCredentialDSN, err := storageProfileDefaultsFromEnv()
	if err != nil {
		return nil, nil, err
	}

	queueDSN := strings.TrimSpace(os.Getenv("DRIVERELAY_UPLOAD_QUEUE_DSN"))
	if queueDSN == "" {
		queueDSN = profileQueueDSN
	}
	queue, err := driverelay.BuildUploadQueueFromDSN(queueDSN, intEnv("DRIVERELAY_UPLOAD_QUEUE_SIZE", 0))
	if err != nil {
		return nil, nil, err
	}

	credentialDSN := strings.TrimSpace(os.Getenv("DRIVERELAY_CREDENTIAL_STORE_DSN"))
	if credentialDSN == "" {
		credentialDSN = profileCredentialDSN
	}
	credentialStore, err := credstore.BuildStoreFromDSN(credentialDSN)
	if err != nil {
		return nil, nil, err
	}
	if credentialStore == nil {
		credentialStore = credstore.NewMemoryStore()
	}
	return queue, credentialStore, nil
}

func storageProfileDefaultsFromEnv() (uploadQueueDSN, credentialStoreDSN string, err error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("DRIVERELAY_BACKEND_PROFILE")))
	dataDir := strings.TrimSpace(os.Getenv("DRIVERELAY_DATA_DIR"))
	if dataDir == "" {
		dataDir = ".driverelay"
	}
	switch profile {
	case "", "custom":
		return "", "", nil
	case "memory", "inmemory":
		return "memory://", "memory://", nil
	case "production", "prod":
		productionDSN := strings.TrimSpace(os.Getenv("DRIVERELAY_PRODUCTION_DSN"))
		if productionDSN == "" {
			productionDSN = strings.TrimSpace(os.Getenv("DRIVERELAY_POSTGRES_DSN"))
		}
		if productionDSN == "" {
			return "", "", fmt.Errorf("DRIVERELAY_PRODUCTION_DSN or DRIVERELAY_POSTGRES_DSN is required when DRIVERELAY_BACKEND_PROFILE=%s", profile)
		}
		return productionDSN, productionDSN, nil
	case "durable-local", "local-durable":
		return "file://" + filepath.Join(dataDir, "upload-queue.json"),
			"file://" + filepath.Join(dataDir, "tokens"),
			nil
	default:
		return "", "", fmt.Errorf("unsupported DRIVERELAY_BACKEND_PROFILE: %s", profile)
	}
}
