package archive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// AzureBlobSink writes exports to an Azure Blob Storage container.
type AzureBlobSink struct {
	client     *azblob.Client
	accountURL string
	container  string
}

func NewAzureBlobSink(accountURL, container string) (*AzureBlobSink, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure blob sink: credential: %w", err)
	}

	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure blob sink: client: %w", err)
	}
	return &AzureBlobSink{client: client, accountURL: strings.TrimRight(accountURL, "/"), container: container}, nil
}

func (s *AzureBlobSink) Name() string { return "azure_blob" }

func (s *AzureBlobSink) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	_, err := s.client.UploadStream(ctx, s.container, key, r, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("azure blob upload: %w", err)
	}
	return fmt.Sprintf("%s/%s/%s", s.accountURL, s.container, key), nil
}
