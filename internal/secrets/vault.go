package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/hashicorp/vault/api/auth/approle"

	"github.com/praxisllmlab/copydesk/internal/config"
)

// vaultStore reads secrets from a Vault KV v2 mount. A secret with a single
// key, or with a "value" key, yields that value. Anything else is returned as
// a JSON object so a "#key" reference can pick one field.
type vaultStore struct {
	read   func(ctx context.Context, path string) (map[string]any, error)
	health func(ctx context.Context) (*vaultapi.HealthResponse, error)
	mount  string
}

func init() {
	Register("hashicorp_vault", newVaultStore)
}

func newVaultStore(ctx context.Context, cfg config.SecretsConfig) (Provider, error) {
	client, err := vaultClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	kv := client.KVv2(mount)
	return &vaultStore{
		mount: mount,
		read: func(ctx context.Context, path string) (map[string]any, error) {
			s, err := kv.Get(ctx, path)
			if err != nil {
				return nil, err
			}
			return s.Data, nil
		},
		health: client.Sys().HealthWithContext,
	}, nil
}

// vaultClient logs in with secrets.token, then VAULT_TOKEN, then AppRole.
func vaultClient(ctx context.Context, cfg config.SecretsConfig) (*vaultapi.Client, error) {
	vcfg := vaultapi.DefaultConfig()
	if cfg.VaultURL != "" {
		vcfg.Address = cfg.VaultURL
	}
	client, err := vaultapi.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("hashicorp_vault: secrets.vault_url: %w", err)
	}

	switch {
	case cfg.Token != "":
		client.SetToken(cfg.Token)
	case os.Getenv("VAULT_TOKEN") != "":
		client.SetToken(os.Getenv("VAULT_TOKEN"))
	case cfg.RoleID != "":
		auth, err := approle.NewAppRoleAuth(cfg.RoleID, &approle.SecretID{FromString: cfg.SecretID})
		if err != nil {
			return nil, fmt.Errorf("hashicorp_vault: secrets.role_id: %w", err)
		}
		if _, err := client.Auth().Login(ctx, auth); err != nil {
			return nil, fmt.Errorf("hashicorp_vault: approle login: %w", err)
		}
	default:
		return nil, errors.New("hashicorp_vault: set secrets.token, VAULT_TOKEN or secrets.role_id")
	}
	return client, nil
}

func (v *vaultStore) Name() string { return "hashicorp_vault" }

func (v *vaultStore) Get(ctx context.Context, path string) (string, error) {
	data, err := v.read(ctx, path)
	switch {
	case errors.Is(err, vaultapi.ErrSecretNotFound):
		return "", notFound(err)
	case err != nil:
		return "", err
	case len(data) == 0:
		return "", ErrEmpty
	}
	if val, ok := data["value"]; ok {
		return fmt.Sprint(val), nil
	}
	if len(data) == 1 {
		for _, val := range data {
			return fmt.Sprint(val), nil
		}
	}
	obj, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(obj), nil
}

func (v *vaultStore) Health(ctx context.Context) error {
	h, err := v.health(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("hashicorp_vault unreachable: %w", err)
	case !h.Initialized:
		return errors.New("hashicorp_vault: not initialized")
	case h.Sealed:
		return errors.New("hashicorp_vault: sealed")
	}
	return nil
}
