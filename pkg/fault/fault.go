// Package fault defines the stable, client-facing error kinds surfaced by the
// ingestion pipeline. Kinds are wire-stable strings: handlers map them to HTTP
// status codes and clients branch on them, so renaming a kind is a breaking
// change.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies a class of ingestion failure.
type Kind string

const (
	// Initiation failures.
	KindUnsupportedFormat   Kind = "UnsupportedFormat"
	KindOversizeForPlatform Kind = "OversizeForPlatform"
	KindAlreadyIngested     Kind = "AlreadyIngested"

	// Chunk receipt failures.
	KindNotFound           Kind = "NotFound"
	KindExpired            Kind = "Expired"
	KindCancelled          Kind = "Cancelled"
	KindNotAcceptingChunks Kind = "NotAcceptingChunks"
	KindChunkSizeMismatch  Kind = "ChunkSizeMismatch"
	KindChunkWriteFailed   Kind = "ChunkWriteFailed"

	// Assembly and validation failures.
	KindAssemblyIO          Kind = "AssemblyIO"
	KindSizeMismatch        Kind = "SizeMismatch"
	KindDigestMismatch      Kind = "DigestMismatch"
	KindNoRecognizedContent Kind = "NoRecognizedContent"
	KindArchiveBomb         Kind = "ArchiveBomb"
	KindPathUnsafe          Kind = "PathUnsafe"

	// Terminal-state misuse.
	KindAlreadyCompleted Kind = "AlreadyCompleted"

	// Anything not covered above.
	KindInternal Kind = "Internal"
)

// Fault is an error tagged with a stable Kind. Detail carries a human-readable
// explanation; Err is the underlying cause, if any.
type Fault struct {
	Kind   Kind
	Detail string
	Err    error
}

// New creates a Fault with a detail message.
func New(kind Kind, detail string) *Fault {
	return &Fault{Kind: kind, Detail: detail}
}

// Newf creates a Fault with a formatted detail message.
func Newf(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates a Fault wrapping an underlying error.
func Wrap(kind Kind, err error) *Fault {
	return &Fault{Kind: kind, Err: err}
}

// Error implements the error interface.
func (f *Fault) Error() string {
	switch {
	case f.Detail != "" && f.Err != nil:
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Detail, f.Err)
	case f.Detail != "":
		return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	default:
		return string(f.Kind)
	}
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error {
	return f.Err
}

// KindOf extracts the Kind from an error chain. Errors that are not Faults
// report KindInternal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain contains a Fault of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// DetailOf returns the detail message from the first Fault in the chain, or
// the error text for plain errors.
func DetailOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		if f.Detail != "" {
			return f.Detail
		}
		if f.Err != nil {
			return f.Err.Error()
		}
		return ""
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
