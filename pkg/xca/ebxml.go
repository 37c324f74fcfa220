package xca

import (
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/sirosfoundation/go-ihe/pkg/ihe"
	"github.com/sirosfoundation/go-ihe/pkg/soap"
)

// ebXML registry response statuses, as the last segment of the
// ResponseStatusType URN
const (
	StatusSuccess        = "Success"
	StatusPartialSuccess = "PartialSuccess"
	StatusFailure        = "Failure"
)

// XDSDocumentEntry classification and identification schemes
const (
	SchemeClassCode                  = "urn:uuid:41a5887f-8865-4c09-adf7-e362475b143a"
	SchemeTypeCode                   = "urn:uuid:f0306f51-975f-434e-a61c-c59651d33983"
	SchemeFormatCode                 = "urn:uuid:a09d5840-386c-46f2-b5ad-9c3699a4309d"
	SchemeConfidentialityCode        = "urn:uuid:f4f85eac-e6cb-4883-b524-f2705394840f"
	SchemePracticeSettingCode        = "urn:uuid:cccf5598-8b07-4b77-a05e-ae952c785ead"
	SchemeHealthcareFacilityTypeCode = "urn:uuid:f33fb8ac-18af-42cc-ae0e-ed0b0bdb91e1"
	SchemeAuthor                     = "urn:uuid:93606bcf-9494-43ec-9b4e-a7748d1a838d"
	SchemeUniqueID                   = "urn:uuid:2e82c1f6-a085-4c72-9da3-8640a32e42ab"
)

// Code system URIs reported on parsed codings
const (
	SystemLOINC           = "http://loinc.org"
	SystemSNOMED          = "http://snomed.info/sct"
	SystemFormatCode      = "urn:oid:1.3.6.1.4.1.19376.1.2.3"
	SystemConfidentiality = "urn:oid:2.16.840.1.113883.5.25"
)

var schemeSystems = map[string]string{
	SchemeClassCode:                  SystemLOINC,
	SchemeTypeCode:                   SystemLOINC,
	SchemeFormatCode:                 SystemFormatCode,
	SchemeConfidentialityCode:        SystemConfidentiality,
	SchemePracticeSettingCode:        SystemSNOMED,
	SchemeHealthcareFacilityTypeCode: SystemSNOMED,
}

// responseStatus truncates a ResponseStatusType URN to its last segment
func responseStatus(status string) string {
	status = strings.TrimSpace(status)
	if i := strings.LastIndex(status, ":"); i >= 0 {
		return status[i+1:]
	}
	return status
}

func isSuccess(status string) bool {
	return status == StatusSuccess || status == StatusPartialSuccess
}

// registryErrors reads the RegistryError entries of a RegistryErrorList
func registryErrors(list *etree.Element) []ihe.RegistryError {
	var errs []ihe.RegistryError
	for _, e := range list.SelectElements("RegistryError") {
		errs = append(errs, ihe.RegistryError{
			ErrorCode:   strings.TrimSpace(e.SelectAttrValue("errorCode", "")),
			CodeContext: strings.TrimSpace(e.SelectAttrValue("codeContext", "")),
			Severity:    strings.TrimSpace(e.SelectAttrValue("severity", "")),
			Location:    strings.TrimSpace(e.SelectAttrValue("location", "")),
		})
	}
	return errs
}

// slotValue returns the first ValueList/Value of the named slot
func slotValue(parent *etree.Element, name string) string {
	for _, slot := range parent.SelectElements("Slot") {
		if slot.SelectAttrValue("name", "") == name {
			return soap.Text(slot, "./ValueList/Value")
		}
	}
	return ""
}

// localizedName returns Name/LocalizedString/@value
func localizedName(e *etree.Element) string {
	return soap.AttrValue(e, "./Name/LocalizedString", "value")
}

func parseSize(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &n
}

var timeLayouts = []string{
	"20060102150405.000-0700",
	"20060102150405-0700",
	"20060102150405.000",
	"20060102150405",
	"200601021504",
	"2006010215",
	"20060102",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// formatTime normalizes an HL7 TS or ISO date to an ISO-8601 UTC
// timestamp. Unparseable values yield the empty string.
func formatTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return ihe.FormatTimestamp(t)
		}
	}
	return ""
}
