package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/praxisllmlab/copydesk/internal/config"
)

// azureStore reads secrets from one Key Vault. Key Vault names allow only
// alphanumerics and dashes, so "copydesk/backend_key" is looked up as
// "copydesk-backend-key".
type azureStore struct {
	get  func(ctx context.Context, name string) (*string, error)
	ping func(ctx context.Context) error
}

func init() {
	Register("azure_key_vault", newAzureStore)
}

func newAzureStore(_ context.Context, cfg config.SecretsConfig) (Provider, error) {
	if cfg.VaultURL == "" {
		return nil, errors.New("azure_key_vault: secrets.vault_url required")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure_key_vault: credential: %w", err)
	}
	client, err := azsecrets.NewClient(strings.TrimRight(cfg.VaultURL, "/"), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure_key_vault: secrets.vault_url: %w", err)
	}
	return &azureStore{
		get: func(ctx context.Context, name string) (*string, error) {
			resp, err := client.GetSecret(ctx, name, "", nil)
			if err != nil {
				return nil, err
			}
			return resp.Value, nil
		},
		ping: func(ctx context.Context) error {
			pager := client.NewListSecretPropertiesPager(nil)
			if !pager.More() {
				return nil
			}
			_, err := pager.NextPage(ctx)
			return err
		},
	}, nil
}

var azureName = strings.NewReplacer("/", "-", "_", "-", ".", "-")

func (a *azureStore) Name() string { return "azure_key_vault" }

func (a *azureStore) Get(ctx context.Context, path string) (string, error) {
	val, err := a.get(ctx, azureName.Replace(path))
	var respErr *azcore.ResponseError
	switch {
	case errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound:
		return "", notFound(err)
	case err != nil:
		return "", err
	case val == nil || *val == "":
		return "", ErrEmpty
	}
	return *val, nil
}

func (a *azureStore) Health(ctx context.Context) error {
	if err := a.ping(ctx); err != nil {
		return fmt.Errorf("azure_key_vault unreachable: %w", err)
	}
	return nil
}
