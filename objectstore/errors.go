package objectstore

import (
	"errors"

	"github.com/aws/smithy-go"

	"github.com/Monadical-SAS/reflector/httperr"
)

// ErrNotFound matches (via errors.Is) any classified error whose kind is
// not-found, e.g. a Get or Head against a missing key.
var ErrNotFound = httperr.ErrNotFound

// ErrForbidden matches a presign expiry or rejected credentials.
var ErrForbidden = httperr.ErrForbidden

// classify maps an AWS SDK error into the shared httperr classification so
// the taskgraph retry policy can act on it uniformly with RemoteASR and
// RemoteLLM failures.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound", "404":
			return httperr.FromHTTP("objectstore", 404, []byte(apiErr.ErrorMessage()))
		case "AccessDenied", "Forbidden", "ExpiredToken":
			return httperr.FromHTTP("objectstore", 403, []byte(apiErr.ErrorMessage()))
		case "SlowDown", "ServiceUnavailable", "RequestTimeout", "InternalError":
			return httperr.FromHTTP("objectstore", 503, []byte(apiErr.ErrorMessage()))
		}
	}
	return httperr.Wrap("objectstore:"+op, err)
}
