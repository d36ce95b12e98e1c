// Package errs defines the typed error taxonomy shared by every component
// of the store. Callers use errors.As to recover structured fields (object
// id, field name, cause) and errors.Is against the sentinel Kind values.
package errs

import "fmt"

// Kind discriminates the error taxonomy described in the external interface.
type Kind string

const (
	KindNotFound           Kind = "NotFound"
	KindValidationError    Kind = "ValidationError"
	KindUnknownRecipe      Kind = "UnknownRecipe"
	KindInvalidEncoding    Kind = "InvalidEncoding"
	KindStaleWrite         Kind = "StaleWrite"
	KindAnalysisFailed     Kind = "AnalysisFailed"
	KindNoSubjects         Kind = "NoSubjects"
	KindComputationError   Kind = "ComputationError"
	KindCrossTopicMerge    Kind = "CrossTopicMerge"
	KindUnresolvedRef      Kind = "UnresolvedReference"
	KindSecretUnavailable  Kind = "SecretUnavailable"
	KindCancelled          Kind = "Cancelled"
	KindTimeout            Kind = "Timeout"
)

// E is the concrete error type for every taxonomy member. ObjectID and
// Field are populated where meaningful and left empty otherwise.
type E struct {
	Kind     Kind
	ObjectID string
	Field    string
	Reason   string
	Cause    error
}

func (e *E) Error() string {
	msg := string(e.Kind)
	if e.ObjectID != "" {
		msg += fmt.Sprintf(" object=%s", e.ObjectID)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" field=%s", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *E) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, errs.New(kind)) match on Kind alone.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, reason string) *E {
	return &E{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, cause error, reason string) *E {
	return &E{Kind: kind, Cause: cause, Reason: reason}
}

func NotFound(objectID string) *E {
	return &E{Kind: KindNotFound, ObjectID: objectID}
}

func Validation(field, reason string) *E {
	return &E{Kind: KindValidationError, Field: field, Reason: reason}
}

func UnknownRecipe(name string) *E {
	return &E{Kind: KindUnknownRecipe, Reason: name}
}

func InvalidEncoding(reason string) *E {
	return &E{Kind: KindInvalidEncoding, Reason: reason}
}

func StaleWrite(objectID string) *E {
	return &E{Kind: KindStaleWrite, ObjectID: objectID}
}

func AnalysisFailed(cause error) *E {
	return &E{Kind: KindAnalysisFailed, Cause: cause}
}

func NoSubjects(topicID string) *E {
	return &E{Kind: KindNoSubjects, ObjectID: topicID}
}

func ComputationError(cause error) *E {
	return &E{Kind: KindComputationError, Cause: cause}
}

func CrossTopicMerge(s1, s2 string) *E {
	return &E{Kind: KindCrossTopicMerge, Reason: fmt.Sprintf("%s vs %s", s1, s2)}
}

func UnresolvedReference(hash string) *E {
	return &E{Kind: KindUnresolvedRef, ObjectID: hash}
}

func SecretUnavailable(field string) *E {
	return &E{Kind: KindSecretUnavailable, Field: field}
}

func Cancelled() *E {
	return &E{Kind: KindCancelled}
}

func Timeout(reason string) *E {
	return &E{Kind: KindTimeout, Reason: reason}
}
