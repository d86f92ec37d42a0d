// Command paramengined serves the Parameter Evaluation Engine's HTTP facade.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/brightway-tools/paramengine/api"
	"github.com/brightway-tools/paramengine/domain/parameters"
	"github.com/brightway-tools/paramengine/pkg/config"
	"github.com/brightway-tools/paramengine/pkg/logger"
	"github.com/brightway-tools/paramengine/pkg/metrics"
	"github.com/brightway-tools/paramengine/storage/memory"
	"github.com/brightway-tools/paramengine/storage/postgres"
	"github.com/brightway-tools/paramengine/storage/postgres/migrations"
	_ "github.com/lib/pq"
)

func main() {
	var (
		addr    = flag.String("addr", "", "listen address, overrides config file")
		dsn     = flag.String("dsn", "", "Postgres DSN, overrides config file")
		cfgPath = flag.String("config", "", "path to a YAML config file")
		migrate = flag.Bool("migrate", false, "apply database migrations and exit")
	)
	flag.Parse()

	cfg := config.New()
	if *cfgPath != "" {
		loaded, err := config.LoadFile(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr != "" {
		host, port, err := splitAddr(*addr)
		if err == nil {
			cfg.Server.Host, cfg.Server.Port = host, port
		}
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	ctx := context.Background()
	m := metrics.New()

	var store parameters.Store = memory.New()
	if cfg.Database.DSN != "" {
		db, err := openDatabase(ctx, cfg.Database.DSN)
		if err != nil {
			log.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("open database")
		}
		defer db.Close()

		if *migrate || cfg.Database.MigrateOnStart {
			if err := migrations.Apply(ctx, db); err != nil {
				log.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("apply migrations")
			}
		}
		if *migrate {
			return
		}
		store = postgres.New(db, m)
	}

	mgr := parameters.NewManager(store, nil, nil, log, m)
	graph := parameters.NewGraph(store)
	server := api.NewServer(mgr, graph, log)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.Router(),
	}

	go func() {
		log.WithFields(map[string]interface{}{"addr": httpServer.Addr}).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("serve")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithFields(map[string]interface{}{"error": err.Error()}).Error("shutdown")
	}
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
