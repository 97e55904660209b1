package cloud

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws/awserr"
)

// ErrorKind is the closed set of recognized provider failure classes.
// Provider errors are classified once at this boundary and matched by kind
// downstream; raw AWS error codes never leak into the pipeline.
type ErrorKind int

// Recognized provider error kinds
const (
	// KindUnknown is any provider failure we do not recognize
	KindUnknown ErrorKind = iota
	// KindRateLimited is a throttling or request-limit failure
	KindRateLimited
	// KindNotFound is a missing resource
	KindNotFound
	// KindPermission is an authorization or credential failure
	KindPermission
	// KindMarketplaceRestricted is a marketplace/billing-code copy refusal
	KindMarketplaceRestricted
	// KindStorageInaccessible is a private image whose storage we cannot read
	KindStorageInaccessible
	// KindInvalidState is a resource in the wrong state for the request
	KindInvalidState
)

// marketplacePhrases are the provider error texts that identify an image as
// marketplace/billing restricted rather than broken.
var marketplacePhrases = []string{
	"Images from AWS Marketplace cannot be copied to another AWS account",
	"Images with EC2 BillingProduct codes cannot be copied to another AWS account",
}

// storagePhrase identifies a shared image whose underlying storage is not
// accessible to a copy request.
const storagePhrase = "You do not have permission to access the storage of this ami"

// Error is a provider failure tagged with its recognized kind.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// String returns a human-readable name for the kind
func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate-limited"
	case KindNotFound:
		return "not-found"
	case KindPermission:
		return "permission"
	case KindMarketplaceRestricted:
		return "marketplace-restricted"
	case KindStorageInaccessible:
		return "storage-inaccessible"
	case KindInvalidState:
		return "invalid-state"
	default:
		return "unknown"
	}
}

// Classify resolves an AWS SDK error into a tagged *Error. Non-AWS errors
// come back as KindUnknown so the retry layer treats them as transient.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}

	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
	}

	kind := classifyCode(aerr.Code(), aerr.Message())
	return &Error{Kind: kind, Code: aerr.Code(), Message: aerr.Message(), Err: err}
}

func classifyCode(code, message string) ErrorKind {
	switch code {
	case "Throttling", "ThrottlingException", "RequestLimitExceeded":
		return KindRateLimited
	case "InvalidSnapshot.NotFound", "InvalidVolume.NotFound",
		"InvalidAMIID.NotFound", "InvalidInstanceID.NotFound":
		return KindNotFound
	case "UnauthorizedOperation", "AuthFailure", "AccessDenied",
		"AccessDeniedException", "OptInRequired":
		if strings.Contains(strings.ToLower(message), "marketplace") {
			return KindMarketplaceRestricted
		}
		return KindPermission
	case "IncorrectState", "IncorrectInstanceState", "VolumeInUse",
		"InvalidVolume.ZoneMismatch":
		if strings.Contains(strings.ToLower(message), "marketplace") {
			return KindMarketplaceRestricted
		}
		return KindInvalidState
	case "InvalidRequest", "InvalidParameterValue":
		trimmed := strings.TrimSuffix(message, ".")
		for _, phrase := range marketplacePhrases {
			if trimmed == phrase {
				return KindMarketplaceRestricted
			}
		}
		if trimmed == storagePhrase {
			return KindStorageInaccessible
		}
		return KindInvalidState
	default:
		return KindUnknown
	}
}

// IsKind reports whether err classifies to the given kind.
func IsKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	return Classify(err).Kind == kind
}

// IsNotFound reports whether err is a missing-resource failure.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsTransient reports whether err should be retried at the task layer.
// Rate limiting and unrecognized failures are retryable; everything the
// taxonomy recognizes as a terminal condition is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch Classify(err).Kind {
	case KindRateLimited, KindUnknown:
		return true
	default:
		return false
	}
}
