// Package daqerr defines the sentinel error kinds shared across the
// connection manager, scheduler, harvester and safe manipulator. Callers
// classify an error with errors.Is against these sentinels; the broker's
// RPC server serializes {kind, message} across the process boundary
// using Kind to name the sentinel.
package daqerr

import "errors"

var (
	ErrUnrecognizedConnection            = errors.New("unrecognized connection")
	ErrUnrecognizedConnectionType        = errors.New("unrecognized connection type")
	ErrConnectionAlreadyExists           = errors.New("connection already exists")
	ErrConnectionRedefinitionNotSupported = errors.New("connection redefinition not supported")
	ErrConnectionNotActive               = errors.New("connection not active")
	ErrTargetConnectionError             = errors.New("target connection error")
	ErrCannotBrowseTargetTags            = errors.New("cannot browse target tags")
	ErrAddingTagsToGroup                 = errors.New("error adding tags to group")
	ErrReadingTags                       = errors.New("error reading tags")
	ErrWritingReadonlyTag                = errors.New("error writing readonly tag")
	ErrGroupErrorWritingValues           = errors.New("group error writing values")
	ErrGroupAlreadyExists                = errors.New("group already exists")
	ErrSafetyBoundariesNotSpecified      = errors.New("one of the boundaries (lower/upper/rate bound) is not specified")
	ErrSafetyWritingInvalidValue         = errors.New("cannot write a non-numeric value")
	ErrSafetyManipulateUnauthorizedTag   = errors.New("tag is not registered as a manipulated tag")
	ErrSafetyManipulateOutsideOfRange    = errors.New("value outside of the registered bound")
	ErrDaqJobAlreadyExists               = errors.New("daq job already exists")
	ErrDaqJobNotFound                    = errors.New("daq job not found")
	ErrHistoryHarvesterJobAlreadyExists  = errors.New("history harvester job already exists")
	ErrHistoryHarvesterJobNotFound       = errors.New("history harvester job not found")
)

// Kinds lists every sentinel in declaration order. Kind does not read
// this table; it names each sentinel through its own switch.
var Kinds = []error{
	ErrUnrecognizedConnection,
	ErrUnrecognizedConnectionType,
	ErrConnectionAlreadyExists,
	ErrConnectionRedefinitionNotSupported,
	ErrConnectionNotActive,
	ErrTargetConnectionError,
	ErrCannotBrowseTargetTags,
	ErrAddingTagsToGroup,
	ErrReadingTags,
	ErrWritingReadonlyTag,
	ErrGroupErrorWritingValues,
	ErrGroupAlreadyExists,
	ErrSafetyBoundariesNotSpecified,
	ErrSafetyWritingInvalidValue,
	ErrSafetyManipulateUnauthorizedTag,
	ErrSafetyManipulateOutsideOfRange,
	ErrDaqJobAlreadyExists,
	ErrDaqJobNotFound,
	ErrHistoryHarvesterJobAlreadyExists,
	ErrHistoryHarvesterJobNotFound,
}

// Kind returns the symbolic name of a sentinel, e.g. for wire encoding.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errorIs(err, ErrUnrecognizedConnection):
		return "UnrecognizedConnection"
	case errorIs(err, ErrUnrecognizedConnectionType):
		return "UnrecognizedConnectionType"
	case errorIs(err, ErrConnectionAlreadyExists):
		return "ConnectionAlreadyExists"
	case errorIs(err, ErrConnectionRedefinitionNotSupported):
		return "ConnectionRedefinitionNotSupported"
	case errorIs(err, ErrConnectionNotActive):
		return "ConnectionNotActive"
	case errorIs(err, ErrTargetConnectionError):
		return "TargetConnectionError"
	case errorIs(err, ErrCannotBrowseTargetTags):
		return "CannotBrowseTargetTags"
	case errorIs(err, ErrAddingTagsToGroup):
		return "ErrorAddingTagsToGroup"
	case errorIs(err, ErrReadingTags):
		return "ErrorReadingTags"
	case errorIs(err, ErrWritingReadonlyTag):
		return "ErrorWritingReadonlyTag"
	case errorIs(err, ErrGroupErrorWritingValues):
		return "GroupErrorWritingValues"
	case errorIs(err, ErrGroupAlreadyExists):
		return "GroupAlreadyExists"
	case errorIs(err, ErrSafetyBoundariesNotSpecified):
		return "SafetyErrorBounderiesNotSpecified"
	case errorIs(err, ErrSafetyWritingInvalidValue):
		return "SafetyErrorWritingInvalidValue"
	case errorIs(err, ErrSafetyManipulateUnauthorizedTag):
		return "SafetyErrorManipulateUnauthorizedTag"
	case errorIs(err, ErrSafetyManipulateOutsideOfRange):
		return "SafetyErrorManipulateOutsideOfRange"
	case errorIs(err, ErrDaqJobAlreadyExists):
		return "DaqJobAlreadyExists"
	case errorIs(err, ErrDaqJobNotFound):
		return "DaqJobNotFound"
	case errorIs(err, ErrHistoryHarvesterJobAlreadyExists):
		return "HistoryHarvesterJobAlreadyExists"
	case errorIs(err, ErrHistoryHarvesterJobNotFound):
		return "HistoryHarvesterJobNotFound"
	default:
		return "Error"
	}
}

func errorIs(err, target error) bool {
	return errors.Is(err, target)
}
