// Command mocksource serves the fixture datasets under data/mock through the
// open-data resource API so ingest can run end to end without credentials.
//
// Usage:
//
//	go run ./cmd/mocksource -dir data/mock -addr :8090 -key dev -secret dev
//	SOURCE_BASE_URL=http://localhost:8090 NYCT_API_KEY=dev NYCT_SECRET_KEY=dev \
//	  go run ./cmd/collisions ingest --start_date 2021-09-11 --end_date 2021-09-12 --table crashes
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/collision-forecast-service/internal/mocksource"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dir := flag.String("dir", "data/mock", "directory of <dataset>.json fixtures")
	addr := flag.String("addr", ":8090", "listen address")
	key := flag.String("key", "", "require this basic-auth user")
	secret := flag.String("secret", "", "require this basic-auth password")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var opts []mocksource.Option
	if *key != "" {
		opts = append(opts, mocksource.WithBasicAuth(*key, *secret))
	}
	src, err := mocksource.Load(*dir, logger, opts...)
	if err != nil {
		return fmt.Errorf("load fixtures: %w", err)
	}
	for id, n := range src.Datasets() {
		log.Printf("%s: %d records", id, n)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           src,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("serving fixtures on %s", *addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
