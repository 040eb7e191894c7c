package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"Co-Edit/backend/api"
	"Co-Edit/backend/archive"
	"Co-Edit/backend/archive/bolt"
	"Co-Edit/backend/archive/dir"
	"Co-Edit/backend/archive/postgres"
	"Co-Edit/backend/metrics"
	"Co-Edit/backend/peer"
	"Co-Edit/backend/peer/impl"
	"Co-Edit/backend/registry"
	"Co-Edit/backend/storage"
	"Co-Edit/backend/storage/memory"
	"Co-Edit/backend/storage/redisstore"
	"Co-Edit/backend/transport"
	"Co-Edit/backend/transport/channel"
	"Co-Edit/backend/transport/discovery"
	"Co-Edit/backend/transport/redisbroker"
	"Co-Edit/backend/transport/ws"

	"github.com/cenkalti/backoff"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "coedit",
		Usage: "collaborative plain text editing server",
		Commands: []*cli.Command{
			serveCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		logger := zerolog.New(os.Stderr)
		logger.Fatal().Err(err).Msg("coedit failed")
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the websocket gateway and the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "listen address", EnvVars: []string{"COEDIT_ADDR"}},
			&cli.StringFlag{Name: "store", Value: "memory", Usage: "document store: memory or redis",
				EnvVars: []string{"COEDIT_STORE"}},
			&cli.StringFlag{Name: "broker", Value: "channel", Usage: "message broker: channel or redis",
				EnvVars: []string{"COEDIT_BROKER"}},
			&cli.StringFlag{Name: "redis-addr", Value: "localhost:6379", EnvVars: []string{"COEDIT_REDIS_ADDR"}},
			&cli.IntFlag{Name: "history-size", Value: peer.DefaultMaxHistory,
				Usage: "operations retained per document", EnvVars: []string{"COEDIT_HISTORY_SIZE"}},
			&cli.DurationFlag{Name: "presence-ttl", Value: peer.DefaultPresenceTTL,
				EnvVars: []string{"COEDIT_PRESENCE_TTL"}},
			&cli.DurationFlag{Name: "index-ttl", Value: peer.DefaultIndexTTL, EnvVars: []string{"COEDIT_INDEX_TTL"}},
			&cli.IntFlag{Name: "commit-retries", Value: peer.DefaultCommitRetries,
				EnvVars: []string{"COEDIT_COMMIT_RETRIES"}},
			&cli.StringFlag{Name: "archive", Value: "none", Usage: "snapshot archive: dir, bolt, postgres or none",
				EnvVars: []string{"COEDIT_ARCHIVE"}},
			&cli.StringFlag{Name: "archive-path", Value: "snapshots",
				Usage: "directory of the dir archive, file of the bolt archive", EnvVars: []string{"COEDIT_ARCHIVE_PATH"}},
			&cli.StringFlag{Name: "postgres-url", EnvVars: []string{"COEDIT_POSTGRES_URL"}},
			&cli.DurationFlag{Name: "archive-threshold", Value: peer.DefaultArchiveThreshold,
				Usage: "minimum time between two snapshots of a document", EnvVars: []string{"COEDIT_ARCHIVE_THRESHOLD"}},
			&cli.IntFlag{Name: "archive-queue", Value: peer.DefaultArchiveQueueSize,
				Usage: "snapshots kept per document", EnvVars: []string{"COEDIT_ARCHIVE_QUEUE"}},
			&cli.BoolFlag{Name: "mdns", Usage: "announce the server on the local network",
				EnvVars: []string{"COEDIT_MDNS"}},
			&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"COEDIT_LOG_LEVEL"}},
			&cli.BoolFlag{Name: "console-log", Value: true, Usage: "human readable logs instead of JSON",
				EnvVars: []string{"COEDIT_CONSOLE_LOG"}},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	level, err := zerolog.ParseLevel(c.String("log-level"))
	if err != nil {
		return xerrors.Errorf("invalid log level: %w", err)
	}

	var logIO io.Writer = os.Stderr
	if c.Bool("console-log") {
		logIO = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	log := zerolog.New(logIO).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if c.String("store") == "redis" || c.String("broker") == "redis" {
		redisClient, err = connectRedis(ctx, c.String("redis-addr"), log)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	var store storage.Store
	switch c.String("store") {
	case "memory":
		store = memory.NewStore()
	case "redis":
		store = redisstore.NewStore(redisClient)
	default:
		return xerrors.Errorf("unknown store %q", c.String("store"))
	}

	var broker transport.Broker
	switch c.String("broker") {
	case "channel":
		broker = channel.NewTransport()
	case "redis":
		broker = redisbroker.NewBroker(redisClient, log)
	default:
		return xerrors.Errorf("unknown broker %q", c.String("broker"))
	}
	defer broker.Close()

	snapshots, err := openArchive(ctx, c, log)
	if err != nil {
		return err
	}
	if snapshots != nil {
		defer snapshots.Close()
	}

	m := metrics.New()
	reg := registry.NewRegistry()

	node := impl.NewPeer(peer.Configuration{
		Store:            store,
		Broker:           broker,
		MessageRegistry:  reg,
		Archive:          snapshots,
		Metrics:          m,
		LogWriter:        logIO,
		LogLevel:         level,
		MaxHistory:       c.Int("history-size"),
		CommitRetries:    c.Int("commit-retries"),
		PresenceTTL:      c.Duration("presence-ttl"),
		IndexTTL:         c.Duration("index-ttl"),
		ArchiveThreshold: c.Duration("archive-threshold"),
		ArchiveQueueSize: c.Int("archive-queue"),
	})

	err = node.Start()
	if err != nil {
		return xerrors.Errorf("failed to start peer: %w", err)
	}

	gateway := ws.NewGateway(broker, reg, node, m, log)

	server := &http.Server{
		Addr: c.String("addr"),
		Handler: api.NewServer(node, broker, log, api.Options{
			Metrics: m.Handler(),
			Gateway: gateway,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if c.Bool("mdns") {
		service, err := announce(ctx, c.String("addr"), log)
		if err != nil {
			log.Warn().Err(err).Msg("mDNS disabled")
		} else {
			defer service.Shutdown()
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
		if !xerrors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to shut down HTTP server")
	}

	err = gateway.Close()
	if err != nil {
		log.Warn().Err(err).Msg("failed to close gateway")
	}

	return node.Stop()
}

// connectRedis pings until the server answers or ctx is done.
func connectRedis(ctx context.Context, addr string, log zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	err := backoff.Retry(func() error {
		err := client.Ping(ctx).Err()
		if err != nil {
			log.Warn().Str("addr", addr).Err(err).Msg("redis not ready")
		}
		return err
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		client.Close()
		return nil, xerrors.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Msg("connected to redis")
	return client, nil
}

// openArchive returns nil when archiving is disabled.
func openArchive(ctx context.Context, c *cli.Context, log zerolog.Logger) (archive.Archive, error) {
	switch c.String("archive") {
	case "none", "":
		return nil, nil
	case "dir":
		return dir.NewArchive(c.String("archive-path"))
	case "bolt":
		return bolt.NewArchive(c.String("archive-path"))
	case "postgres":
		url := c.String("postgres-url")
		if url == "" {
			return nil, xerrors.New("postgres archive requires --postgres-url")
		}

		var pool *pgxpool.Pool
		err := backoff.Retry(func() error {
			var err error
			pool, err = pgxpool.New(ctx, url)
			if err == nil {
				err = pool.Ping(ctx)
				if err != nil {
					pool.Close()
				}
			}
			if err != nil {
				log.Warn().Err(err).Msg("postgres not ready")
			}
			return err
		}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
		if err != nil {
			return nil, xerrors.Errorf("failed to connect to postgres: %w", err)
		}

		return postgres.NewArchive(ctx, pool)
	default:
		return nil, xerrors.Errorf("unknown archive %q", c.String("archive"))
	}
}

func announce(ctx context.Context, addr string, log zerolog.Logger) (*discovery.Service, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, xerrors.Errorf("invalid address %s: %w", addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, xerrors.Errorf("invalid port %s: %w", portStr, err)
	}

	service, err := discovery.Register(port, []string{"txtv=0", "path=/ws"}, log)
	if err != nil {
		return nil, err
	}

	go func() {
		err := service.Browse(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("mDNS browsing failed")
		}
	}()

	return service, nil
}
