package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"faceseek/pkg/db"
	gos3 "faceseek/pkg/s3"
	"faceseek/services/cards"
	"faceseek/services/ledger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cardctl",
		Short:         "Gift-card batch tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newGenerateCommand())
	cmd.AddCommand(newImportCommand())
	cmd.AddCommand(newStatsCommand())
	return cmd
}

func openLedger(ctx context.Context) (*ledger.Ledger, func(), error) {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}

	orm, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	cleanup := func() { _ = db.CloseORM(orm) }

	store, err := ledger.NewGormStore(orm)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	l, err := ledger.New(store, ledger.Config{})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return l, cleanup, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newGenerateCommand() *cobra.Command {
	var (
		count        int
		searches     int
		batchID      string
		outDir       string
		compress     bool
		uploadBucket string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a batch of gift cards with a signed manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			l, cleanup, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			signer, err := cards.NewSignerFromEnv()
			if err != nil {
				return err
			}

			cfg := cards.ExportConfig{
				Ledger:   l,
				Count:    count,
				Searches: searches,
				BatchID:  batchID,
				OutDir:   outDir,
				Compress: compress,
				Signer:   signer,
				Stdout:   os.Stdout,
			}
			if uploadBucket != "" {
				s3Client, err := gos3.NewClientFromEnv()
				if err != nil {
					return fmt.Errorf("s3 client: %w", err)
				}
				cfg.S3 = s3Client
				cfg.Bucket = uploadBucket
			}

			_, err = cards.Export(ctx, cfg)
			return err
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Number of cards to generate")
	cmd.Flags().IntVar(&searches, "searches", 0, "Searches granted per card")
	cmd.Flags().StringVar(&batchID, "batch", "", "Batch identifier (default batch_<unix>)")
	cmd.Flags().StringVar(&outDir, "out", ".", "Output directory")
	cmd.Flags().BoolVar(&compress, "compress", false, "Write the CSV zstd-compressed")
	cmd.Flags().StringVar(&uploadBucket, "upload-bucket", "", "Upload the batch to this S3 bucket")
	_ = cmd.MarkFlagRequired("count")
	_ = cmd.MarkFlagRequired("searches")
	return cmd
}

func newImportCommand() *cobra.Command {
	var (
		searches int
		batchID  string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import cards from a batch CSV (plain or .zst)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			l, cleanup, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := cards.ImportFile(ctx, l, args[0], searches, batchID)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "imported %d cards\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&searches, "searches", 0, "Searches per card for rows without one")
	cmd.Flags().StringVar(&batchID, "batch", "", "Override the batch id from the file")
	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate gift-card statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
			if dsn == "" {
				return errors.New("DATABASE_URL is required")
			}
			pool, err := db.Open(ctx, dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pool.Close()

			report, err := cards.QueryStats(ctx, pool)
			if err != nil {
				return err
			}
			report.Render(os.Stdout)
			return nil
		},
	}
}
