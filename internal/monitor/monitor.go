// Package monitor archives raw gateway responses for troubleshooting
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sirosfoundation/go-ihe/internal/storage"
	"github.com/sirosfoundation/go-ihe/pkg/gateway"
)

// ContentTypeXML is stored with every archived response
const ContentTypeXML = "application/xml"

// KeyParams identifies one archived response
type KeyParams struct {
	Type         string
	CxID         string
	PatientID    string
	RequestID    string
	OID          string
	Timestamp    string
	SubRequestID string
}

// BuildResponseKey returns
// {cxId}/{patientId}/{type}/{requestId}_{date}/{oid}[_{subRequestId}].xml
// where date is the calendar date of Timestamp, or today in UTC when
// Timestamp is empty.
func BuildResponseKey(p KeyParams) string {
	file := p.OID
	if p.SubRequestID != "" {
		file += "_" + p.SubRequestID
	}
	return fmt.Sprintf("%s/%s/%s/%s_%s/%s.xml", p.CxID, p.PatientID, p.Type, p.RequestID, datePart(p.Timestamp), file)
}

func datePart(timestamp string) string {
	date, _, _ := strings.Cut(strings.TrimSpace(timestamp), "T")
	if date == "" {
		return time.Now().UTC().Format(time.DateOnly)
	}
	return date
}

// Archiver writes raw responses to an object store. It implements
// gateway.Archiver.
type Archiver struct {
	store  storage.ObjectStore
	logger *slog.Logger
}

// NewArchiver creates an archiver writing to store
func NewArchiver(store storage.ObjectStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, logger: logger}
}

// Archive stores body under the response key of ex
func (a *Archiver) Archive(ctx context.Context, ex gateway.Exchange, body []byte) error {
	key := BuildResponseKey(KeyParams{
		Type:         ex.Transaction,
		CxID:         ex.CxID,
		PatientID:    ex.PatientID,
		RequestID:    ex.RequestID,
		OID:          ex.OID,
		Timestamp:    ex.Timestamp,
		SubRequestID: ex.SubRequestID,
	})
	if err := a.store.Put(ctx, key, body, ContentTypeXML); err != nil {
		return fmt.Errorf("archiving response %s: %w", key, err)
	}
	a.logger.Debug("archived gateway response", "key", key, "size", len(body))
	return nil
}
