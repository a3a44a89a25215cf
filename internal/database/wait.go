package database

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
)

// Connected reports whether a connection to url can be established.
func Connected(ctx context.Context, url string) error {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer conn.Close(context.Background())
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Wait polls url every interval until a connection succeeds or ctx ends,
// writing progress to out.
func Wait(ctx context.Context, url string, interval time.Duration, out io.Writer) error {
	if interval <= 0 {
		interval = time.Second
	}
	fmt.Fprintln(out, "Waiting for database...")
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, interval*5)
		err := Connected(attemptCtx, url)
		cancel()
		if err == nil {
			fmt.Fprintln(out, "Database available!")
			return nil
		}
		fmt.Fprintf(out, "Database unavailable, waiting %s... (attempt %d)\n", interval, attempt)
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for database: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}
