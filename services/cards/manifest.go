package cards

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the signed metadata written next to a batch CSV.
type Manifest struct {
	Version          string    `yaml:"version"`
	CreatedAt        time.Time `yaml:"created_at"`
	BatchID          string    `yaml:"batch_id"`
	Count            int       `yaml:"count"`
	SearchesEach     int       `yaml:"searches_each"`
	CSVFile          string    `yaml:"csv_file"`
	CSVSize          int64     `yaml:"csv_size"`
	CSVSHA256        string    `yaml:"csv_sha256"`
	Signer           string    `yaml:"signer,omitempty"`
	SigningPublicKey string    `yaml:"signing_public_key,omitempty"`
	Signature        string    `yaml:"signature,omitempty"`
}

// SigningBytes marshals the manifest without its signature for
// signing and verification.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}
