package s3

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/smithy-go"

	"github.com/koustreak/objgate/internal/errs"
)

// mapError translates an AWS SDK error into a *errs.Error.
// It mirrors the mapError pattern used in the minio and database drivers.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// Service errors carry an S3 code. HeadObject has no body, so its 404
	// arrives with the generic code "NotFound".
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NoSuchKey", "NoSuchUpload", "NotFound":
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "Forbidden":
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case "BucketAlreadyExists", "BucketAlreadyOwnedByYou", "BucketNotEmpty":
			return errs.Wrap(errs.ErrKindConflict, msg, err)
		case "InvalidBucketName", "KeyTooLongError", "InvalidArgument",
			"InvalidPart", "InvalidPartOrder", "EntityTooSmall", "MalformedXML":
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		case "RequestTimeout", "SlowDown", "Throttling":
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}
	}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case code == http.StatusForbidden || code == http.StatusUnauthorized:
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case code == http.StatusConflict:
			return errs.Wrap(errs.ErrKindConflict, msg, err)
		case code == http.StatusBadRequest:
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		case code == http.StatusServiceUnavailable:
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		case code >= 500:
			return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
		}
	}

	if apiErr != nil && apiErr.ErrorFault() == smithy.FaultServer {
		return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
