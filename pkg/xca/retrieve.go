package xca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/beevik/etree"
	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/mtom"
	"github.com/sirosfoundation/go-ihe/pkg/soap"
)

var (
	ErrUnresolvedDocument = errors.New("retrieved document does not match any requested correlation id")
)

// DocumentStore persists retrieved documents
type DocumentStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	URL(key string) string
}

// RetrieveResult is the raw outcome of sending one ITI-39 request
type RetrieveResult struct {
	Request     *ihe.DocumentRetrievalRequest
	ContentType string
	Body        []byte
	// Err is set when the transport failed before any response existed
	Err error
}

// DocumentKey is the storage key of a retrieved document
func DocumentKey(cxID, patientID, correlationID, mimeType string) string {
	return fmt.Sprintf("%s/%s/%s_%s_%s%s", cxID, patientID, cxID, patientID, correlationID, mtom.Extension(mimeType))
}

// RetrieveProcessor maps RetrieveDocumentSetResponse messages to document
// references and stores their content.
type RetrieveProcessor struct {
	Store DocumentStore
	// Location is reported as FileLocation, typically the bucket name
	Location string
	Logger   *slog.Logger
}

type retrievedDocument struct {
	response      *etree.Element
	docUniqueID   string
	correlationID string
	data          []byte
	mimeType      string
}

// Process classifies the response. The error is non-nil only when a
// returned document cannot be tied to a requested correlation id or the
// store fails; every remote problem is reported as an OperationOutcome.
func (p *RetrieveProcessor) Process(ctx context.Context, result *RetrieveResult) (*ihe.DocumentRetrievalResponse, error) {
	req := result.Request
	resp := &ihe.DocumentRetrievalResponse{
		ResponseMeta: ihe.ResponseMeta{
			ID:                req.ID,
			PatientID:         req.PatientID,
			Timestamp:         req.Timestamp,
			RequestTimestamp:  req.Timestamp,
			ResponseTimestamp: ihe.Now(),
			IHEGatewayV2:      true,
		},
		Gateway:        req.Gateway,
		RequestChunkID: req.RequestChunkID,
	}

	if result.Err != nil {
		resp.OperationOutcome = ihe.HTTPError(req.ID, result.Err.Error())
		return resp, nil
	}
	atts, err := mtom.Decode(result.ContentType, result.Body)
	if err != nil {
		resp.OperationOutcome = ihe.SchemaError(req.ID, err.Error())
		return resp, nil
	}
	doc, err := soap.Parse(atts.Root().Body)
	if err != nil {
		resp.OperationOutcome = ihe.SchemaError(req.ID, err.Error())
		return resp, nil
	}
	if fault := soap.ParseFault(doc); fault != nil {
		resp.OperationOutcome = ihe.SOAPFault(req.ID, fault.Code, fault.Reason)
		return resp, nil
	}

	body := doc.FindElement("//Body/RetrieveDocumentSetResponse")
	if body == nil {
		resp.OperationOutcome = ihe.SchemaError(req.ID, "missing RetrieveDocumentSetResponse")
		return resp, nil
	}
	registry := body.SelectElement("RegistryResponse")
	if registry == nil {
		resp.OperationOutcome = ihe.SchemaError(req.ID, "missing RegistryResponse")
		return resp, nil
	}

	documents := body.SelectElements("DocumentResponse")
	errList := registry.SelectElement("RegistryErrorList")
	switch {
	case isSuccess(responseStatus(registry.SelectAttrValue("status", ""))) && len(documents) > 0:
		retrieved, err := resolveDocuments(req, atts, documents)
		if err != nil {
			if errors.Is(err, ErrUnresolvedDocument) {
				return nil, err
			}
			resp.OperationOutcome = ihe.SchemaError(req.ID, err.Error())
			return resp, nil
		}
		refs, err := p.store(ctx, req, retrieved)
		if err != nil {
			return nil, err
		}
		resp.DocumentReference = refs
	case errList != nil:
		resp.OperationOutcome = ihe.RegistryErrors(req.ID, registryErrors(errList))
	default:
		resp.OperationOutcome = ihe.NoDocuments(req.ID)
	}
	return resp, nil
}

// resolveDocuments decodes every document and ties it to its correlation
// id before anything is stored.
func resolveDocuments(req *ihe.DocumentRetrievalRequest, atts *mtom.Attachments, documents []*etree.Element) ([]retrievedDocument, error) {
	correlation := make(map[string]string, len(req.DocumentReference))
	for _, ref := range req.DocumentReference {
		if ref.DocUniqueID != "" && ref.CorrelationID != "" {
			correlation[ihe.StripURNPrefix(ref.DocUniqueID)] = ref.CorrelationID
		}
	}

	out := make([]retrievedDocument, 0, len(documents))
	for _, d := range documents {
		docUniqueID := ihe.StripURNPrefix(ihe.StripBrackets(soap.Text(d, "./DocumentUniqueId")))
		correlationID, ok := correlation[docUniqueID]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnresolvedDocument, docUniqueID)
		}
		data, mimeType, err := documentContent(d, atts)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", docUniqueID, err)
		}
		out = append(out, retrievedDocument{
			response:      d,
			docUniqueID:   docUniqueID,
			correlationID: correlationID,
			data:          data,
			mimeType:      mimeType,
		})
	}
	return out, nil
}

// documentContent returns the bytes of a DocumentResponse, either inline
// base64 or an XOP reference into the attachments. The MIME type is
// sniffed; the declared mimeType is used only when sniffing finds nothing.
func documentContent(d *etree.Element, atts *mtom.Attachments) ([]byte, string, error) {
	content := d.SelectElement("Document")
	if content == nil {
		return nil, "", errors.New("missing Document")
	}

	var data []byte
	if include := content.SelectElement("Include"); include != nil {
		part, err := atts.Find(include.SelectAttrValue("href", ""))
		if err != nil {
			return nil, "", err
		}
		data = part.Body
		if strings.EqualFold(part.TransferEncoding(), "base64") {
			decoded, _, err := mtom.DecodeBase64Document(string(part.Body))
			if err != nil {
				return nil, "", err
			}
			data = decoded
		}
	} else {
		decoded, _, err := mtom.DecodeBase64Document(content.Text())
		if err != nil {
			return nil, "", err
		}
		data = decoded
	}

	mimeType := mtom.DetectMimeType(data)
	if declared := soap.Text(d, "./mimeType"); mimeType == mtom.ContentTypeOctetStream && declared != "" {
		mimeType = declared
	}
	return data, mimeType, nil
}

func (p *RetrieveProcessor) store(ctx context.Context, req *ihe.DocumentRetrievalRequest, docs []retrievedDocument) ([]ihe.DocumentReference, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stored := make(map[string]bool, len(docs))
	refs := make([]ihe.DocumentReference, 0, len(docs))
	for _, doc := range docs {
		key := DocumentKey(req.CxID, req.PatientID, doc.correlationID, doc.mimeType)

		isNew, seen := stored[key]
		if !seen {
			exists, err := p.Store.Exists(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("checking document %s: %w", key, err)
			}
			if !exists {
				if err := p.Store.Put(ctx, key, doc.data, doc.mimeType); err != nil {
					return nil, fmt.Errorf("storing document %s: %w", key, err)
				}
			}
			isNew = !exists
			stored[key] = isNew
			logger.Info("retrieved document",
				"request_id", req.ID,
				"patient_id", req.PatientID,
				"mime_type", doc.mimeType,
				"new", isNew,
			)
		}

		d := doc.response
		ref := ihe.DocumentReference{
			HomeCommunityID:       orDefault(ihe.StripURNPrefix(soap.Text(d, "./HomeCommunityId")), req.Gateway.HomeCommunityID),
			RepositoryUniqueID:    orDefault(ihe.StripURNPrefix(soap.Text(d, "./RepositoryUniqueId")), req.Gateway.HomeCommunityID),
			DocUniqueID:           doc.docUniqueID,
			CorrelationID:         doc.correlationID,
			ContentType:           doc.mimeType,
			Size:                  parseSize(soap.Text(d, "./size")),
			Title:                 soap.Text(d, "./title"),
			Creation:              soap.Text(d, "./creation"),
			Language:              soap.Text(d, "./language"),
			URL:                   p.Store.URL(key),
			FileName:              key,
			FileLocation:          p.Location,
			IsNew:                 isNew,
			NewDocumentUniqueID:   soap.Text(d, "./NewDocumentUniqueId"),
			NewRepositoryUniqueID: soap.Text(d, "./NewRepositoryUniqueId"),
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
