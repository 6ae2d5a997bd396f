package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/cvcomm/pkg/crypto"
)

var certgenCmd = &cobra.Command{
	Use:   "certgen <name>",
	Short: "Generate an Ed25519 key pair and a self-signed certificate",
	Long: `certgen writes <name>.crt, <name>.pem and <name>.pem.pub to the output
directory. Add the certificate and key to the certificates section of the
config file to sign requests with it.`,
	Args: cobra.ExactArgs(1),
	RunE: runCertgen,
}

var (
	certDir      string
	certValidFor time.Duration
	certForce    bool
)

func init() {
	certgenCmd.Flags().StringVarP(&certDir, "out", "o", "./keys", "output directory")
	certgenCmd.Flags().DurationVar(&certValidFor, "valid-for", 365*24*time.Hour, "certificate lifetime")
	certgenCmd.Flags().BoolVar(&certForce, "force", false, "overwrite existing files")

	rootCmd.AddCommand(certgenCmd)
}

type certFiles struct {
	Cert   string
	Key    string
	Public string
	ID     string // hex certificate id
}

// generateCertificate creates the key pair and certificate for name under dir.
// Existing files are kept unless force is set.
func generateCertificate(dir, name string, validFor time.Duration, force bool) (*certFiles, error) {
	if name == "" {
		return nil, errors.New("certificate name is required")
	}
	if validFor <= 0 {
		return nil, fmt.Errorf("invalid lifetime %s", validFor)
	}

	files := &certFiles{
		Cert:   filepath.Join(dir, name+".crt"),
		Key:    filepath.Join(dir, name+".pem"),
		Public: filepath.Join(dir, name+".pem.pub"),
	}
	if !force {
		for _, path := range []string{files.Cert, files.Key} {
			if _, err := os.Stat(path); err == nil {
				return nil, fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
	}

	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	der, err := crypto.CreateCertificate(name, priv, validFor)
	if err != nil {
		return nil, err
	}
	keyPEM, err := crypto.ExportPrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}
	pubPEM, err := crypto.ExportPublicKeyPEM(pub)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	if err := crypto.SaveKeyToFile(files.Key, keyPEM); err != nil {
		return nil, err
	}
	if err := os.WriteFile(files.Public, pubPEM, 0644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(files.Cert, crypto.ExportCertificatePEM(der), 0644); err != nil {
		return nil, err
	}

	id := crypto.CertID(der)
	files.ID = hex.EncodeToString(id[:])
	return files, nil
}

func runCertgen(cmd *cobra.Command, args []string) error {
	files, err := generateCertificate(certDir, args[0], certValidFor, certForce)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Certificate saved to %s\n", files.Cert)
	fmt.Printf("✓ Private key saved to %s\n", files.Key)
	fmt.Printf("✓ Public key saved to %s\n", files.Public)
	fmt.Printf("  Certificate ID: %s\n", files.ID)
	return nil
}
