package google

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/kms/apiv1/kmspb"
	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"github.com/flow-hydraulics/credential-vault/keys"
	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CreateKeyHSM creates an HSM protected symmetric encryption key and waits
// until its first version is enabled.
func (k *KMS) CreateKeyHSM(ctx context.Context, ref keys.Ref) error {
	startCreate := time.Now()
	key, err := k.client.CreateCryptoKey(ctx, &kmspb.CreateCryptoKeyRequest{
		Parent:      ref.KeyRingName(),
		CryptoKeyId: ref.KeyID,
		CryptoKey: &kmspb.CryptoKey{
			Purpose: kmspb.CryptoKey_ENCRYPT_DECRYPT,
			VersionTemplate: &kmspb.CryptoKeyVersionTemplate{
				Algorithm:       kmspb.CryptoKeyVersion_GOOGLE_SYMMETRIC_ENCRYPTION,
				ProtectionLevel: kmspb.ProtectionLevel_HSM,
			},
			Labels: map[string]string{
				"service": "credential-vault",
			},
		},
	})
	if err != nil {
		return classify("create", ref.ResourceName(), err)
	}
	log.Debugf("Create crypto key took %s", time.Since(startCreate))

	versionName := fmt.Sprintf("%s/cryptoKeyVersions/1", key.Name)
	if err := k.waitForKey(ctx, versionName); err != nil {
		// The key exists but is not recorded for any user
		log.WithFields(log.Fields{"key": key.Name, "error": err}).Warn("Created crypto key never became enabled, key is orphaned")
		return classify("create", ref.ResourceName(), err)
	}

	return nil
}

func (k *KMS) waitForKey(ctx context.Context, keyVersionResourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, k.waitTimeout)
	defer cancel()

	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    time.Minute,
		Factor: 5,
		Jitter: true,
	}

	for {
		keyVersion, err := k.client.GetCryptoKeyVersion(ctx, &kmspb.GetCryptoKeyVersionRequest{
			Name: keyVersionResourceID,
		})
		if err != nil {
			return err
		}
		if keyVersion.State == kmspb.CryptoKeyVersion_ENABLED {
			return nil
		}
		log.Debugf("Waiting for key creation: %s %s", keyVersion.State, keyVersionResourceID)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}

func classify(op, key string, err error) error {
	kind := vaulterrors.KeyErrorOther
	switch status.Code(err) {
	case codes.NotFound:
		kind = vaulterrors.KeyErrorNotFound
	case codes.PermissionDenied:
		kind = vaulterrors.KeyErrorPermissionDenied
	}
	return &vaulterrors.KeyManagementError{Op: op, Key: key, Kind: kind, Err: err}
}
