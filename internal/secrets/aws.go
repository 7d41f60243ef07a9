package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/praxisllmlab/copydesk/internal/config"
)

// awsSecretsAPI is the part of *secretsmanager.Client copydesk calls.
type awsSecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	ListSecrets(ctx context.Context, in *secretsmanager.ListSecretsInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// awsStore reads the current version of secrets from AWS Secrets Manager.
// Binary secrets come back base64 encoded.
type awsStore struct {
	api awsSecretsAPI
}

func init() {
	Register("aws_secrets_manager", func(ctx context.Context, cfg config.SecretsConfig) (Provider, error) {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("aws_secrets_manager: load aws config: %w", err)
		}
		return &awsStore{api: secretsmanager.NewFromConfig(awsCfg)}, nil
	})
}

func (a *awsStore) Name() string { return "aws_secrets_manager" }

func (a *awsStore) Get(ctx context.Context, path string) (string, error) {
	out, err := a.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(path)})
	var missing *smtypes.ResourceNotFoundException
	switch {
	case errors.As(err, &missing):
		return "", notFound(err)
	case err != nil:
		return "", err
	case out.SecretString != nil:
		return *out.SecretString, nil
	case len(out.SecretBinary) > 0:
		return base64.StdEncoding.EncodeToString(out.SecretBinary), nil
	}
	return "", ErrEmpty
}

func (a *awsStore) Health(ctx context.Context) error {
	if _, err := a.api.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)}); err != nil {
		return fmt.Errorf("aws_secrets_manager unreachable: %w", err)
	}
	return nil
}
