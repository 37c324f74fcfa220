package ihe

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
)

// ValidationError reports a missing or inconsistent request field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "is required"
	}
	return fmt.Sprintf("%v: %s %s", ErrInvalidRequest, e.Field, reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

func required(fields ...[2]string) error {
	for _, f := range fields {
		if f[1] == "" {
			return &ValidationError{Field: f[0]}
		}
	}
	return nil
}

// Validate checks the fields needed to build an ITI-55 request
func (r *PatientDiscoveryRequest) Validate() error {
	if err := required(
		[2]string{"id", r.ID},
		[2]string{"cxId", r.CxID},
		[2]string{"patientId", r.PatientID},
		[2]string{"samlAttributes.homeCommunityId", r.SamlAttributes.HomeCommunityID},
	); err != nil {
		return err
	}
	if len(r.Gateways) == 0 {
		return &ValidationError{Field: "gateways", Reason: "must not be empty"}
	}
	for i, gw := range r.Gateways {
		if err := required(
			[2]string{fmt.Sprintf("gateways[%d].oid", i), gw.OID},
			[2]string{fmt.Sprintf("gateways[%d].url", i), gw.URL},
		); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the fields needed to build an ITI-38 request
func (r *DocumentQueryRequest) Validate() error {
	return required(
		[2]string{"id", r.ID},
		[2]string{"cxId", r.CxID},
		[2]string{"patientId", r.PatientID},
		[2]string{"samlAttributes.homeCommunityId", r.SamlAttributes.HomeCommunityID},
		[2]string{"gateway.homeCommunityId", r.Gateway.HomeCommunityID},
		[2]string{"gateway.url", r.Gateway.URL},
		[2]string{"externalGatewayPatient.id", r.ExternalGatewayPatient.ID},
		[2]string{"externalGatewayPatient.system", r.ExternalGatewayPatient.System},
	)
}

// Validate checks the fields needed to build an ITI-39 request. Every
// document reference needs a correlation id that is unique within the
// request.
func (r *DocumentRetrievalRequest) Validate() error {
	if err := required(
		[2]string{"id", r.ID},
		[2]string{"cxId", r.CxID},
		[2]string{"patientId", r.PatientID},
		[2]string{"samlAttributes.homeCommunityId", r.SamlAttributes.HomeCommunityID},
		[2]string{"gateway.homeCommunityId", r.Gateway.HomeCommunityID},
		[2]string{"gateway.url", r.Gateway.URL},
	); err != nil {
		return err
	}
	if len(r.DocumentReference) == 0 {
		return &ValidationError{Field: "documentReference", Reason: "must not be empty"}
	}

	seen := make(map[string]struct{}, len(r.DocumentReference))
	for i, ref := range r.DocumentReference {
		if err := required(
			[2]string{fmt.Sprintf("documentReference[%d].docUniqueId", i), ref.DocUniqueID},
			[2]string{fmt.Sprintf("documentReference[%d].repositoryUniqueId", i), ref.RepositoryUniqueID},
			[2]string{fmt.Sprintf("documentReference[%d].metriportId", i), ref.CorrelationID},
		); err != nil {
			return err
		}
		if _, dup := seen[ref.CorrelationID]; dup {
			return &ValidationError{
				Field:  fmt.Sprintf("documentReference[%d].metriportId", i),
				Reason: fmt.Sprintf("duplicates %q", ref.CorrelationID),
			}
		}
		seen[ref.CorrelationID] = struct{}{}
	}
	return nil
}
