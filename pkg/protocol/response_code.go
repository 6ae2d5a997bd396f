package protocol

import (
	"regexp"
	"strings"
)

// ResponseCode is an error code returned by the distribution service.
//
// Codes 1-100 report a missing field, 101-200 invalid data and 201 and
// above a processing or server failure.
type ResponseCode uint32

const (
	DialogIDMissing     ResponseCode = 1
	SequenceIDMissing   ResponseCode = 2
	SubscriberIDMissing ResponseCode = 3
	CertificateMissing  ResponseCode = 4
	TargetHostMissing   ResponseCode = 5
	TargetPortMissing   ResponseCode = 6
	EndTimeMissing      ResponseCode = 7
	TypeMissing         ResponseCode = 8
	TypeValueMissing    ResponseCode = 9
	RequestIDMissing    ResponseCode = 10
	NWPosMissing        ResponseCode = 11
	NWLatMissing        ResponseCode = 12
	NWLonMissing        ResponseCode = 13
	SEPosMissing        ResponseCode = 14
	SELatMissing        ResponseCode = 15
	SELonMissing        ResponseCode = 16

	InvalidDialogID    ResponseCode = 101
	InvalidSequenceID  ResponseCode = 102
	InvalidVsmType     ResponseCode = 103
	InvalidEndTime     ResponseCode = 104
	InvalidRequestID   ResponseCode = 105
	InvalidBoundingBox ResponseCode = 106
	InvalidCertificate ResponseCode = 107

	InternalServerError    ResponseCode = 201
	OperationNotSupported  ResponseCode = 202
	SubscriptionExpired    ResponseCode = 203
	DatabaseOperationError ResponseCode = 204
	ResourceLimitReached   ResponseCode = 205
)

var responseCodeNames = map[ResponseCode]string{
	DialogIDMissing:        "DialogIDMissing",
	SequenceIDMissing:      "SequenceIDMissing",
	SubscriberIDMissing:    "SubscriberIdMissing",
	CertificateMissing:     "CertificateMissing",
	TargetHostMissing:      "TargetHostMissing",
	TargetPortMissing:      "TargetPortMissing",
	EndTimeMissing:         "EndTimeMissing",
	TypeMissing:            "TypeMissing",
	TypeValueMissing:       "TypeValueMissing",
	RequestIDMissing:       "RequestIdMissing",
	NWPosMissing:           "NWPosMissing",
	NWLatMissing:           "NWLatMissing",
	NWLonMissing:           "NWLonMissing",
	SEPosMissing:           "SEPosMissing",
	SELatMissing:           "SELatMissing",
	SELonMissing:           "SELonMissing",
	InvalidDialogID:        "InvalidDialogID",
	InvalidSequenceID:      "InvalidSequenceID",
	InvalidVsmType:         "InvalidVsmType",
	InvalidEndTime:         "InvalidEndTime",
	InvalidRequestID:       "InvalidRequestId",
	InvalidBoundingBox:     "InvalidBoundingBox",
	InvalidCertificate:     "InvalidCertificate",
	InternalServerError:    "InternalServerError",
	OperationNotSupported:  "OperationNotSupported",
	SubscriptionExpired:    "SubscriptionExpired",
	DatabaseOperationError: "DatabaseOperationError",
	ResourceLimitReached:   "ResourceLimitReached",
}

// splits "ResourceLimitReached" into words and keeps acronyms such as "NW" or "ID" intact
var camelBoundary = regexp.MustCompile(`([a-z])([A-Z])|([A-Z])([A-Z][a-z])`)

// Known reports whether the code is in the table
func (c ResponseCode) Known() bool {
	_, ok := responseCodeNames[c]
	return ok
}

// Name returns the identifier of the code, or "" when unknown
func (c ResponseCode) Name() string {
	return responseCodeNames[c]
}

// Text returns a human readable category, e.g. "Resource Limit Reached".
// Unknown codes return "".
func (c ResponseCode) Text() string {
	name, ok := responseCodeNames[c]
	if !ok {
		return ""
	}
	return strings.TrimSpace(camelBoundary.ReplaceAllString(name, "$1$3 $2$4"))
}
