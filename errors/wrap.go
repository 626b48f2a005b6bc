package errors

import (
	"encoding/json"
	"errors"
)

// FromIO converts a raw I/O failure into a KindIo error. The conversion is
// total: every non-nil error becomes KindIo with its text preserved.
// Returns nil if err is nil.
func FromIO(err error) *Error {
	return Io(err)
}

// FromSerde converts a raw serializer failure into a KindSerializationLibrary
// error with its text preserved. Returns nil if err is nil.
func FromSerde(err error) *Error {
	return SerializationLibrary(err)
}

// Convert classifies an arbitrary error for producers that do not know its
// origin. An *Error already in the chain is returned as is, encoding/json
// failures become KindSerializationLibrary, everything else KindIo.
// Returns nil if err is nil.
func Convert(err error) *Error {
	if err == nil {
		return nil
	}
	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr
	}
	if isSerdeError(err) {
		return FromSerde(err)
	}
	return FromIO(err)
}

func isSerdeError(err error) bool {
	var (
		syntaxErr      *json.SyntaxError
		typeErr        *json.UnmarshalTypeError
		unsupTypeErr   *json.UnsupportedTypeError
		unsupValueErr  *json.UnsupportedValueError
		marshalerErr   *json.MarshalerError
		invalidUnmarsh *json.InvalidUnmarshalError
	)
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.As(err, &unsupTypeErr) ||
		errors.As(err, &unsupValueErr) ||
		errors.As(err, &marshalerErr) ||
		errors.As(err, &invalidUnmarsh)
}

// AsError extracts an *Error from an error chain.
// Returns nil if none is found.
func AsError(err error) *Error {
	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr
	}
	return nil
}

// Is checks if any error in the chain has the given kind.
func Is(err error, kind Kind) bool {
	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr.kind == kind
	}
	return false
}

// KindOf extracts the kind from an error, if available.
// Returns 0 if err carries no *Error.
func KindOf(err error) Kind {
	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr.kind
	}
	return 0
}
