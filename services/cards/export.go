// Package cards produces and ingests gift-card batches: a CSV of codes, a
// signed manifest for distribution partners, and optional S3 delivery.
package cards

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	gos3 "faceseek/pkg/s3"
	"faceseek/services/ledger"
)

var csvHeader = []string{"Code", "Formatted", "Searches", "Batch", "Created"}

// BuildCSV renders the batch CSV for the given cards.
func BuildCSV(giftCards []ledger.GiftCard) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, c := range giftCards {
		record := []string{
			c.Code,
			c.CodeFormatted,
			strconv.Itoa(c.SearchesAmount),
			c.BatchID,
			c.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CardCreator mints new cards. Implemented by *ledger.Ledger.
type CardCreator interface {
	CreateGiftCards(ctx context.Context, count, searchesAmount int, batchID string) ([]ledger.GiftCard, error)
}

// ExportConfig configures batch generation.
type ExportConfig struct {
	Ledger   CardCreator
	Count    int
	Searches int
	BatchID  string
	OutDir   string
	Compress bool

	// Signer is optional; without it the manifest is written unsigned.
	Signer *Signer

	// S3 and Bucket are optional; set both to upload the batch.
	S3     *gos3.Client
	Bucket string

	Now    func() time.Time
	Stdout io.Writer
}

// Export creates Count cards through the ledger and writes the batch CSV and
// manifest to OutDir.
func Export(ctx context.Context, cfg ExportConfig) (*Manifest, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if cfg.Count <= 0 {
		return nil, errors.New("count must be positive")
	}
	if cfg.Searches <= 0 {
		return nil, errors.New("searches must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "."
	}
	if cfg.BatchID == "" {
		cfg.BatchID = fmt.Sprintf("batch_%d", cfg.Now().UTC().Unix())
	}

	giftCards, err := cfg.Ledger.CreateGiftCards(ctx, cfg.Count, cfg.Searches, cfg.BatchID)
	if err != nil {
		return nil, fmt.Errorf("create cards: %w", err)
	}

	csvData, err := BuildCSV(giftCards)
	if err != nil {
		return nil, fmt.Errorf("build csv: %w", err)
	}

	csvName := cfg.BatchID + ".csv"
	fileData := csvData
	if cfg.Compress {
		csvName += ".zst"
		fileData, err = compress(csvData)
		if err != nil {
			return nil, fmt.Errorf("compress csv: %w", err)
		}
	}

	digest := sha256.Sum256(fileData)

	manifest := &Manifest{
		Version:      "1",
		CreatedAt:    cfg.Now().UTC().Truncate(time.Second),
		BatchID:      cfg.BatchID,
		Count:        len(giftCards),
		SearchesEach: cfg.Searches,
		CSVFile:      csvName,
		CSVSize:      int64(len(fileData)),
		CSVSHA256:    hex.EncodeToString(digest[:]),
	}
	if cfg.Signer != nil {
		manifest.Signer = cfg.Signer.Recipient()
		manifest.SigningPublicKey = cfg.Signer.PublicKeyBase64()

		payload, err := manifest.SigningBytes()
		if err != nil {
			return nil, fmt.Errorf("marshal manifest for signing: %w", err)
		}
		sig, err := cfg.Signer.Sign(payload)
		if err != nil {
			return nil, fmt.Errorf("sign manifest: %w", err)
		}
		manifest.Signature = sig
	}

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	manifestName := cfg.BatchID + ".manifest.yaml"

	if err := os.WriteFile(filepath.Join(cfg.OutDir, csvName), fileData, 0o600); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(cfg.OutDir, manifestName), manifestBytes, 0o600); err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote %s (%d cards, %d searches each)\n", csvName, len(giftCards), cfg.Searches)

	if cfg.S3 != nil && cfg.Bucket != "" {
		if err := uploadBatch(ctx, cfg, csvName, fileData, manifestName, manifestBytes, manifest.CSVSHA256); err != nil {
			return nil, err
		}
	}

	return manifest, nil
}

func uploadBatch(ctx context.Context, cfg ExportConfig, csvName string, csvData []byte, manifestName string, manifestBytes []byte, csvSHA string) error {
	csvKey := "cards/" + csvName
	if err := cfg.S3.PutObject(ctx, cfg.Bucket, csvKey, bytes.NewReader(csvData), int64(len(csvData)), csvSHA); err != nil {
		return fmt.Errorf("upload csv: %w", err)
	}

	mfDigest := sha256.Sum256(manifestBytes)
	mfKey := "cards/" + manifestName
	if err := cfg.S3.PutObject(ctx, cfg.Bucket, mfKey, bytes.NewReader(manifestBytes), int64(len(manifestBytes)), hex.EncodeToString(mfDigest[:])); err != nil {
		return fmt.Errorf("upload manifest: %w", err)
	}

	link, err := cfg.S3.PresignGet(ctx, cfg.Bucket, csvKey, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("presign csv: %w", err)
	}
	fmt.Fprintf(cfg.Stdout, "uploaded to s3://%s/%s\ndownload: %s\n", cfg.Bucket, csvKey, link)
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
