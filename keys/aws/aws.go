// Package aws implements the vault KMS on AWS KMS. Keys are addressed
// through aliases derived from the key reference.
package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"
	vaulterrors "github.com/flow-hydraulics/credential-vault/errors"
	"github.com/flow-hydraulics/credential-vault/keys"
	log "github.com/sirupsen/logrus"
)

// API is the subset of the AWS KMS client used by the vault.
type API interface {
	CreateKey(ctx context.Context, params *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error)
	CreateAlias(ctx context.Context, params *kms.CreateAliasInput, optFns ...func(*kms.Options)) (*kms.CreateAliasOutput, error)
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type KMS struct {
	client API
}

var _ keys.KMS = (*KMS)(nil)

// NewKMS loads the default AWS configuration and creates a client once.
func NewKMS(ctx context.Context) (*KMS, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws configuration error: %w", err)
	}
	return NewKMSWithClient(kms.NewFromConfig(awsCfg)), nil
}

func NewKMSWithClient(client API) *KMS {
	return &KMS{client: client}
}

// CreateKeyHSM creates a symmetric encryption key and names it with an alias.
func (k *KMS) CreateKeyHSM(ctx context.Context, ref keys.Ref) error {
	startCreate := time.Now()
	out, err := k.client.CreateKey(ctx, &kms.CreateKeyInput{
		KeySpec:     types.KeySpecSymmetricDefault,
		KeyUsage:    types.KeyUsageTypeEncryptDecrypt,
		Description: aws.String(fmt.Sprintf("credential-vault user key %s", ref.KeyID)),
		Tags: []types.Tag{
			{
				TagKey:   aws.String("CreatedBy"),
				TagValue: aws.String("credential-vault"),
			},
			{
				TagKey:   aws.String("KeyRing"),
				TagValue: aws.String(ref.KeyRing),
			},
		},
	})
	if err != nil {
		return classify("create", aliasName(ref), err)
	}

	_, err = k.client.CreateAlias(ctx, &kms.CreateAliasInput{
		AliasName:   aws.String(aliasName(ref)),
		TargetKeyId: out.KeyMetadata.KeyId,
	})
	if err != nil {
		// The key exists but cannot be addressed by its alias
		log.WithFields(log.Fields{"keyId": aws.ToString(out.KeyMetadata.KeyId), "alias": aliasName(ref), "error": err}).Warn("Failed to alias created kms key, key is orphaned")
		return classify("create", aliasName(ref), err)
	}

	log.Debugf("Create aws kms key took %s", time.Since(startCreate))

	return nil
}

func aliasName(ref keys.Ref) string {
	return fmt.Sprintf("alias/%s/%s", ref.KeyRing, ref.KeyID)
}

func classify(op, key string, err error) error {
	kind := vaulterrors.KeyErrorOther

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFoundException":
			kind = vaulterrors.KeyErrorNotFound
		case "AccessDeniedException":
			kind = vaulterrors.KeyErrorPermissionDenied
		}
	}

	return &vaulterrors.KeyManagementError{Op: op, Key: key, Kind: kind, Err: err}
}
