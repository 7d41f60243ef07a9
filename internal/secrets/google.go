package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/auth/credentials"
	gcpsm "cloud.google.com/go/secretmanager/apiv1"
	smpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/praxisllmlab/copydesk/internal/config"
)

// googleStore reads the latest version of secrets from one GCP project.
// A path may also pin a version: "name/versions/3".
type googleStore struct {
	access  func(ctx context.Context, name string) ([]byte, error)
	ping    func(ctx context.Context) error
	project string
}

func init() {
	Register("google_secret_manager", newGoogleStore)
}

func newGoogleStore(ctx context.Context, cfg config.SecretsConfig) (Provider, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("google_secret_manager: secrets.project_id required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("google_secret_manager: secrets.credentials_file: %w", err)
		}
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
			CredentialsJSON: data,
		})
		if err != nil {
			return nil, fmt.Errorf("google_secret_manager: secrets.credentials_file: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))
	}

	client, err := gcpsm.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google_secret_manager: %w", err)
	}
	return &googleStore{
		project: cfg.ProjectID,
		access: func(ctx context.Context, name string) ([]byte, error) {
			resp, err := client.AccessSecretVersion(ctx, &smpb.AccessSecretVersionRequest{Name: name})
			if err != nil {
				return nil, err
			}
			return resp.GetPayload().GetData(), nil
		},
		ping: func(ctx context.Context) error {
			it := client.ListSecrets(ctx, &smpb.ListSecretsRequest{Parent: "projects/" + cfg.ProjectID, PageSize: 1})
			if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
				return err
			}
			return nil
		},
	}, nil
}

func (g *googleStore) Name() string { return "google_secret_manager" }

// versionName expands a path into a full secret version resource name.
func (g *googleStore) versionName(path string) string {
	name := fmt.Sprintf("projects/%s/secrets/%s", g.project, path)
	if !strings.Contains(path, "/versions/") {
		name += "/versions/latest"
	}
	return name
}

func (g *googleStore) Get(ctx context.Context, path string) (string, error) {
	data, err := g.access(ctx, g.versionName(path))
	switch {
	case status.Code(err) == codes.NotFound:
		return "", notFound(err)
	case err != nil:
		return "", err
	case len(data) == 0:
		return "", ErrEmpty
	}
	return string(data), nil
}

func (g *googleStore) Health(ctx context.Context) error {
	if err := g.ping(ctx); err != nil {
		return fmt.Errorf("google_secret_manager unreachable: %w", err)
	}
	return nil
}
