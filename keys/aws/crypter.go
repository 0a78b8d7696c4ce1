package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/flow-hydraulics/credential-vault/keys"
)

func (k *KMS) EncryptSymmetric(ctx context.Context, ref keys.Ref, plaintext []byte) ([]byte, error) {
	out, err := k.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:               aws.String(aliasName(ref)),
		Plaintext:           plaintext,
		EncryptionAlgorithm: types.EncryptionAlgorithmSpecSymmetricDefault,
	})
	if err != nil {
		return nil, classify("encrypt", aliasName(ref), err)
	}

	return out.CiphertextBlob, nil
}

func (k *KMS) DecryptSymmetric(ctx context.Context, ref keys.Ref, ciphertext []byte) ([]byte, error) {
	out, err := k.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:               aws.String(aliasName(ref)),
		CiphertextBlob:      ciphertext,
		EncryptionAlgorithm: types.EncryptionAlgorithmSpecSymmetricDefault,
	})
	if err != nil {
		return nil, classify("decrypt", aliasName(ref), err)
	}

	return out.Plaintext, nil
}
