// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"encoding/binary"
	"fmt"
)

// Status is an IPP status code.
type Status uint16

// IPP status codes (RFC 8011 and CUPS extensions).
const (
	StatusOK                              Status = 0x0000
	StatusOKIgnoredOrSubstituted          Status = 0x0001
	StatusOKConflict                      Status = 0x0002
	StatusBadRequest                      Status = 0x0400
	StatusForbidden                       Status = 0x0401
	StatusNotAuthenticated                Status = 0x0402
	StatusNotAuthorized                   Status = 0x0403
	StatusNotPossible                     Status = 0x0404
	StatusTimeout                         Status = 0x0405
	StatusNotFound                        Status = 0x0406
	StatusGone                            Status = 0x0407
	StatusRequestEntityTooLarge           Status = 0x0408
	StatusRequestValueTooLong             Status = 0x0409
	StatusDocumentFormatNotSupported      Status = 0x040A
	StatusAttributesOrValuesNotSupported  Status = 0x040B
	StatusURISchemeNotSupported           Status = 0x040C
	StatusCharsetNotSupported             Status = 0x040D
	StatusConflictingAttributes           Status = 0x040E
	StatusCompressionNotSupported         Status = 0x040F
	StatusCompressionError                Status = 0x0410
	StatusDocumentFormatError             Status = 0x0411
	StatusDocumentAccessError             Status = 0x0412
	StatusInternalError                   Status = 0x0500
	StatusOperationNotSupported           Status = 0x0501
	StatusServiceUnavailable              Status = 0x0502
	StatusVersionNotSupported             Status = 0x0503
	StatusDeviceError                     Status = 0x0504
	StatusTemporaryError                  Status = 0x0505
	StatusNotAcceptingJobs                Status = 0x0506
	StatusBusy                            Status = 0x0507
	StatusJobCanceled                     Status = 0x0508
	StatusMultipleDocumentJobsUnsupported Status = 0x0509
)

var statusNames = map[Status]string{
	StatusOK:                              "successful-ok",
	StatusOKIgnoredOrSubstituted:          "successful-ok-ignored-or-substituted-attributes",
	StatusOKConflict:                      "successful-ok-conflicting-attributes",
	StatusBadRequest:                      "client-error-bad-request",
	StatusForbidden:                       "client-error-forbidden",
	StatusNotAuthenticated:                "client-error-not-authenticated",
	StatusNotAuthorized:                   "client-error-not-authorized",
	StatusNotPossible:                     "client-error-not-possible",
	StatusTimeout:                         "client-error-timeout",
	StatusNotFound:                        "client-error-not-found",
	StatusGone:                            "client-error-gone",
	StatusRequestEntityTooLarge:           "client-error-request-entity-too-large",
	StatusRequestValueTooLong:             "client-error-request-value-too-long",
	StatusDocumentFormatNotSupported:      "client-error-document-format-not-supported",
	StatusAttributesOrValuesNotSupported:  "client-error-attributes-or-values-not-supported",
	StatusURISchemeNotSupported:           "client-error-uri-scheme-not-supported",
	StatusCharsetNotSupported:             "client-error-charset-not-supported",
	StatusConflictingAttributes:           "client-error-conflicting-attributes",
	StatusCompressionNotSupported:         "client-error-compression-not-supported",
	StatusCompressionError:                "client-error-compression-error",
	StatusDocumentFormatError:             "client-error-document-format-error",
	StatusDocumentAccessError:             "client-error-document-access-error",
	StatusInternalError:                   "server-error-internal-error",
	StatusOperationNotSupported:           "server-error-operation-not-supported",
	StatusServiceUnavailable:              "server-error-service-unavailable",
	StatusVersionNotSupported:             "server-error-version-not-supported",
	StatusDeviceError:                     "server-error-device-error",
	StatusTemporaryError:                  "server-error-temporary-error",
	StatusNotAcceptingJobs:                "server-error-not-accepting-jobs",
	StatusBusy:                            "server-error-busy",
	StatusJobCanceled:                     "server-error-job-canceled",
	StatusMultipleDocumentJobsUnsupported: "server-error-multiple-document-jobs-not-supported",
}

// String returns the registered keyword for the status, or its
// hexadecimal value when unknown.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(s))
}

// Successful returns whether s does not exceed [StatusOKConflict], the
// threshold above which a request is considered failed.
func (s Status) Successful() bool {
	return s <= StatusOKConflict
}

// responseHeaderSize is version (2) + status-code (2) + request-id (4).
const responseHeaderSize = 8

// Response is a decoded IPP response.
//
// Only the fixed header is decoded; attribute groups are left in Raw
// for the caller to parse.
type Response struct {
	// Major and Minor are the IPP version of the response.
	Major, Minor uint8

	// Status is the status-code of the response.
	Status Status

	// RequestID echoes the request-id of the request.
	RequestID uint32

	// Raw is the complete encoded message, header included.
	Raw []byte
}

// DecodeResponse decodes the header of an encoded IPP response.
//
// It returns [ErrShortResponse] when raw is shorter than the header.
func DecodeResponse(raw []byte) (*Response, error) {
	if len(raw) < responseHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortResponse, len(raw))
	}
	return &Response{
		Major:     raw[0],
		Minor:     raw[1],
		Status:    Status(binary.BigEndian.Uint16(raw[2:4])),
		RequestID: binary.BigEndian.Uint32(raw[4:8]),
		Raw:       raw,
	}, nil
}
