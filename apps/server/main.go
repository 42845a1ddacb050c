package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mahaj/lytecord/pkg/auth"
	"github.com/mahaj/lytecord/pkg/config"
	"github.com/mahaj/lytecord/pkg/db"
	"github.com/mahaj/lytecord/pkg/handler"
	"github.com/mahaj/lytecord/pkg/logging"
	"github.com/mahaj/lytecord/pkg/presence"
	"github.com/mahaj/lytecord/pkg/pubsub"
	"github.com/mahaj/lytecord/pkg/relay"
	"github.com/mahaj/lytecord/pkg/server"
	"github.com/mahaj/lytecord/pkg/snowflake"
	"github.com/mahaj/lytecord/pkg/store"
)

const (
	shutdownTimeout = 30 * time.Second
	tokenTTL        = 7 * 24 * time.Hour
)

// presenceBackend is what the registry updates and the admin API reads.
type presenceBackend interface {
	pubsub.Presence
	Members(ctx context.Context, channelID int64) ([]int64, error)
}

func main() {
	cfg := config.Load()
	log := logging.New(cfg.Env).With().Str("instance", cfg.InstanceID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn().Err(err).Msg("error while closing")
			}
		}
	}()

	var st store.Store
	if len(cfg.ScyllaHosts) > 0 {
		session, err := db.NewSession(db.Config{Hosts: cfg.ScyllaHosts, Keyspace: cfg.ScyllaKeyspace}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
		}
		closers = append(closers, func() error { session.Close(); return nil })
		st = store.NewScyllaStore(session)
	} else {
		log.Warn().Msg("SCYLLA_HOSTS not set, using in-memory store")
		st = store.NewMemoryStore()
	}

	var blobs store.BlobStore
	if cfg.S3Bucket != "" {
		blobs = store.NewS3Blobs(store.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	} else {
		log.Warn().Msg("S3_BUCKET not set, keeping attachments in memory")
		blobs = store.NewMemoryBlobs()
	}

	var members presenceBackend
	if cfg.RedisAddr != "" {
		rdb := presence.NewRedis(cfg.RedisAddr)
		if err := rdb.Ping(ctx); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to Redis")
		}
		closers = append(closers, rdb.Close)
		members = rdb
	} else {
		members = presence.NewMemory()
	}

	registry := pubsub.NewRegistry(cfg.ChannelBufferSize,
		pubsub.WithPresence(members),
		pubsub.WithLogger(log),
	)

	opts := []handler.Option{handler.WithLogger(log)}
	if len(cfg.KafkaBrokers) > 0 {
		k := relay.NewKafka(relay.Config{
			Brokers:    cfg.KafkaBrokers,
			Topic:      cfg.KafkaTopic,
			InstanceID: cfg.InstanceID,
		}, log)
		closers = append(closers, k.Close)
		opts = append(opts, handler.WithRelay(k))
		go func() {
			if err := k.Run(ctx, registry); err != nil {
				log.Error().Err(err).Msg("relay stopped")
			}
		}()
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("relaying messages through Kafka")
	}

	tokens := auth.NewIssuer(cfg.JWTSecret, tokenTTL)
	h := handler.New(st, blobs, registry, snowflake.New(), tokens, opts...)

	srv := server.New(server.Config{
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: rate.Limit(cfg.RateLimitPerSecond),
			Burst:             cfg.RateLimitBurst,
			Enabled:           true,
		},
	}, h, log)

	errs := make(chan error, 3)
	go func() { errs <- serveChat(srv, cfg, log) }()

	var httpServers []*http.Server
	if cfg.WSAddr != "" {
		r := chi.NewRouter()
		r.Get("/ws", srv.ServeWebSocket)
		ws := &http.Server{Addr: cfg.WSAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		httpServers = append(httpServers, ws)
		go func() {
			log.Info().Str("addr", cfg.WSAddr).Msg("WebSocket gateway starting")
			errs <- listenHTTP(ws, cfg)
		}()
	}

	admin := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           newAdminRouter(st, members, tokens, srv, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServers = append(httpServers, admin)
	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Msg("admin server starting")
		if err := admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errs:
		log.Error().Err(err).Msg("server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, hs := range httpServers {
		if err := hs.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Str("addr", hs.Addr).Msg("http shutdown")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("chat server shutdown")
	}
	stop()
	log.Info().Int("publishers", registry.Len()).Msg("stopped")
}

// serveChat runs the framed protocol listener. Without a certificate it
// serves plain TCP, which config only allows outside production.
func serveChat(srv *server.Server, cfg *config.Config, log zerolog.Logger) error {
	var err error
	if cfg.TLSCert != "" {
		err = srv.ListenAndServeTLS(cfg.ListenAddr, cfg.TLSCert, cfg.TLSKey)
	} else {
		log.Warn().Str("addr", cfg.ListenAddr).Msg("TLS_CERT_FILE not set, serving without TLS")
		var ln net.Listener
		ln, err = net.Listen("tcp", cfg.ListenAddr)
		if err == nil {
			err = srv.Serve(ln)
		}
	}
	if errors.Is(err, server.ErrServerClosed) {
		return nil
	}
	return err
}

func listenHTTP(hs *http.Server, cfg *config.Config) error {
	var err error
	if cfg.TLSCert != "" {
		err = hs.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
	} else {
		err = hs.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
