// Command arbot-segments lists and fetches ledger segments archived to
// object storage. Intended for audits and offline replay of rotated
// execution history.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	s3blob "github.com/caldre/arbot/internal/blob/s3"
	"github.com/caldre/arbot/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	fetch := flag.String("fetch", "", "object key to fetch to stdout instead of listing")
	prefix := flag.String("prefix", "ledger/", "key prefix to list")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	if !cfg.S3.Enabled {
		fatal("s3 archival is not enabled in %s", *configPath)
	}

	ctx := context.Background()
	client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		fatal("connect object storage: %v", err)
	}
	reader := s3blob.NewReader(client)

	if *fetch != "" {
		body, err := reader.Get(ctx, *fetch)
		if err != nil {
			fatal("fetch %s: %v", *fetch, err)
		}
		defer body.Close()
		if _, err := io.Copy(os.Stdout, body); err != nil {
			fatal("copy %s: %v", *fetch, err)
		}
		return
	}

	infos, err := reader.List(ctx, *prefix)
	if err != nil {
		fatal("list %s: %v", *prefix, err)
	}
	if len(infos) == 0 {
		logger.Warn("no segments found", slog.String("prefix", *prefix))
		return
	}
	for _, info := range infos {
		fmt.Printf("%s\t%d\t%s\n", info.Path, info.Size, info.LastModified.Format("2006-01-02T15:04:05Z07:00"))
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "arbot-segments: "+format+"\n", args...)
	os.Exit(1)
}
