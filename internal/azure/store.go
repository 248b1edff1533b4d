// Package azure keeps rendered session reports in Azure Blob Storage.
package azure

import (
	"context"
	"fmt"
	"path"
)

// ReportStore keeps rendered session report PDFs
type ReportStore interface {
	Put(ctx context.Context, key ReportKey, data []byte) (string, error)
	Get(ctx context.Context, blobName string) ([]byte, error)
	Delete(ctx context.Context, blobName string) error
}

var (
	_ ReportStore = (*BlobStorageClient)(nil)
	_ ReportStore = (*MemoryBlobStorage)(nil)
)

// ReportKey identifies one rendered report
type ReportKey struct {
	UserID    string
	SessionID string
	ReportID  string
}

// BlobName returns the blob path for the report, grouped by session
func (k ReportKey) BlobName() (string, error) {
	if k.UserID == "" || k.SessionID == "" || k.ReportID == "" {
		return "", fmt.Errorf("user, session and report IDs are required")
	}
	return path.Join("sessions", k.SessionID, k.ReportID+".pdf"), nil
}

func (k ReportKey) metadata() map[string]*string {
	return map[string]*string{
		"user_id":    toPtr(k.UserID),
		"session_id": toPtr(k.SessionID),
		"report_id":  toPtr(k.ReportID),
	}
}

func toPtr(s string) *string {
	return &s
}
