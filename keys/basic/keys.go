// Package basic selects the key management service from configuration.
package basic

import (
	"context"
	"fmt"

	"github.com/flow-hydraulics/credential-vault/configs"
	"github.com/flow-hydraulics/credential-vault/keys"
	"github.com/flow-hydraulics/credential-vault/keys/aws"
	"github.com/flow-hydraulics/credential-vault/keys/google"
	"github.com/flow-hydraulics/credential-vault/keys/local"
	log "github.com/sirupsen/logrus"
)

// NewKMS returns the configured KMS and a function releasing its resources.
// Local deployments never talk to a KMS and get nil.
func NewKMS(ctx context.Context, cfg *configs.Config) (keys.KMS, func(), error) {
	noop := func() {}

	if cfg.IsLocal() {
		return nil, noop, nil
	}

	switch cfg.KMSType {
	default:
		return nil, noop, fmt.Errorf("kms type not recognised: %s", cfg.KMSType)
	case configs.KMSTypeLocal:
		k, err := local.NewKMS([]byte(cfg.EncryptionKey))
		if err != nil {
			return nil, noop, err
		}
		return k, noop, nil
	case configs.KMSTypeGoogle:
		k, err := google.NewKMS(ctx, cfg.KMSKeyWaitTimeout)
		if err != nil {
			return nil, noop, err
		}
		return k, func() {
			if err := k.Close(); err != nil {
				log.WithFields(log.Fields{"error": err}).Warn("Failed to close kms client")
			}
		}, nil
	case configs.KMSTypeAWS:
		k, err := aws.NewKMS(ctx)
		if err != nil {
			return nil, noop, err
		}
		return k, noop, nil
	}
}
