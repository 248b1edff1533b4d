package azure

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"go.uber.org/zap"
)

const pdfContentType = "application/pdf"

// BlobStorageClient stores session report PDFs in an Azure Blob Storage container
type BlobStorageClient struct {
	client    *azblob.Client
	container string
	logger    *zap.Logger
}

// NewBlobStorageClient authenticates with a shared account key
func NewBlobStorageClient(accountName, accountKey, container string, logger *zap.Logger) (*BlobStorageClient, error) {
	if accountName == "" || accountKey == "" || container == "" {
		return nil, fmt.Errorf("account name, account key and container are required")
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobStorageClient{client: client, container: container, logger: logger}, nil
}

// NewBlobStorageClientFromConnectionString builds a client from a connection string, as Azurite uses
func NewBlobStorageClientFromConnectionString(connectionString, container string, logger *zap.Logger) (*BlobStorageClient, error) {
	if connectionString == "" || container == "" {
		return nil, fmt.Errorf("connection string and container are required")
	}

	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobStorageClient{client: client, container: container, logger: logger}, nil
}

// EnsureContainer creates the report container when missing
func (c *BlobStorageClient) EnsureContainer(ctx context.Context) error {
	_, err := c.client.CreateContainer(ctx, c.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		c.logger.Error("failed to create report container", zap.String("container", c.container), zap.Error(err))
		return fmt.Errorf("failed to create container %s: %w", c.container, err)
	}
	return nil
}

// Put uploads a report PDF tagged with its owner and session, returning the blob name
func (c *BlobStorageClient) Put(ctx context.Context, key ReportKey, data []byte) (string, error) {
	name, err := key.BlobName()
	if err != nil {
		return "", err
	}

	disposition := fmt.Sprintf("attachment; filename=%s.pdf", key.ReportID)
	_, err = c.client.UploadBuffer(ctx, c.container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType:        toPtr(pdfContentType),
			BlobContentDisposition: &disposition,
		},
		Metadata: key.metadata(),
	})
	if err != nil {
		c.logger.Error("failed to upload session report",
			zap.String("blob_name", name),
			zap.String("session_id", key.SessionID),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to upload report: %w", err)
	}

	c.logger.Info("session report uploaded",
		zap.String("blob_name", name),
		zap.Int("size_bytes", len(data)),
	)
	return name, nil
}

// Get downloads a report PDF
func (c *BlobStorageClient) Get(ctx context.Context, blobName string) ([]byte, error) {
	resp, err := c.client.DownloadStream(ctx, c.container, blobName, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, model.NotFound("report blob", blobName)
		}
		c.logger.Error("failed to download session report", zap.String("blob_name", blobName), zap.Error(err))
		return nil, fmt.Errorf("failed to download report: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read report data: %w", err)
	}
	return data, nil
}

// Delete removes a report PDF. A missing blob is not an error.
func (c *BlobStorageClient) Delete(ctx context.Context, blobName string) error {
	_, err := c.client.DeleteBlob(ctx, c.container, blobName, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		c.logger.Error("failed to delete session report", zap.String("blob_name", blobName), zap.Error(err))
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return nil
}
