package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrInvalidInput     = fmt.Errorf("invalid input")
)

// Sentinel errors for the engine.
var (
	// ErrMisuse reports a violated caller contract: unknown or already
	// installed identifiers, invalid creators, nil references.
	ErrMisuse = fmt.Errorf("model misuse")
	// ErrIntegrity reports an internal invariant violation, e.g. the cache
	// and the persisted data disagree.
	ErrIntegrity = fmt.Errorf("model integrity violated")

	ErrInvalidPlugin       = fmt.Errorf("invalid plugin")
	ErrInvalidDescriptor   = fmt.Errorf("invalid descriptor")
	ErrInvalidCondition    = fmt.Errorf("invalid context condition")
	ErrPrivacySettingValue = fmt.Errorf("invalid privacy setting value")
	ErrPluginNotFound      = fmt.Errorf("plugin not found")
	ErrReinstallBlocked    = fmt.Errorf("resource group cannot be reinstalled before restart")
	ErrServiceUnreachable  = fmt.Errorf("app service unreachable")
	ErrConfigLoad          = fmt.Errorf("failed to load configuration")
	ErrAuditWrite          = fmt.Errorf("audit write failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Model.InstallResourceGroup")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "plugin", "context"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Reason returns the human-readable part of a domain validation error, the
// text a caller shows to the user. Other errors yield their full message.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return err.Error()
}

// IsValidationError reports whether err is a recoverable domain validation
// failure rather than misuse or an integrity problem.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidPlugin) ||
		errors.Is(err, ErrInvalidDescriptor) ||
		errors.Is(err, ErrInvalidCondition) ||
		errors.Is(err, ErrPrivacySettingValue)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeMisuse             ErrorCode = "MISUSE"
	CodeIntegrity          ErrorCode = "INTEGRITY"
	CodeInvalidPlugin      ErrorCode = "INVALID_PLUGIN"
	CodeInvalidDescriptor  ErrorCode = "INVALID_DESCRIPTOR"
	CodeInvalidCondition   ErrorCode = "INVALID_CONDITION"
	CodePrivacySettingVal  ErrorCode = "PRIVACY_SETTING_VALUE"
	CodePluginNotFound     ErrorCode = "PLUGIN_NOT_FOUND"
	CodeReinstallBlocked   ErrorCode = "REINSTALL_BLOCKED"
	CodeServiceUnreachable ErrorCode = "SERVICE_UNREACHABLE"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeAuditWrite         ErrorCode = "AUDIT_WRITE"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeAppNotFound      ErrorCode = "APP_NOT_FOUND"
	CodeRGNotFound       ErrorCode = "RESOURCE_GROUP_NOT_FOUND"
	CodePresetNotFound   ErrorCode = "PRESET_NOT_FOUND"
	CodePresetDuplicate  ErrorCode = "PRESET_DUPLICATE"
	CodeRecordNotFound   ErrorCode = "RECORD_NOT_FOUND"
	CodeLocationTimeout  ErrorCode = "LOCATION_TIMEOUT"
	CodeDownloadDenied   ErrorCode = "PLUGIN_DOWNLOAD_DENIED"
	CodeContextNotFound  ErrorCode = "CONTEXT_NOT_FOUND"
	CodeAnnotationAbsent ErrorCode = "ANNOTATION_NOT_FOUND"

	// Category error codes, used when no subsystem-specific code matches.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrPermissionDenied: CodePermissionDenied,
	ErrInvalidInput:     CodeInvalidInput,

	ErrMisuse:              CodeMisuse,
	ErrIntegrity:           CodeIntegrity,
	ErrInvalidPlugin:       CodeInvalidPlugin,
	ErrInvalidDescriptor:   CodeInvalidDescriptor,
	ErrInvalidCondition:    CodeInvalidCondition,
	ErrPrivacySettingValue: CodePrivacySettingVal,
	ErrPluginNotFound:      CodePluginNotFound,
	ErrReinstallBlocked:    CodeReinstallBlocked,
	ErrServiceUnreachable:  CodeServiceUnreachable,
	ErrConfigLoad:          CodeConfigLoad,
	ErrAuditWrite:          CodeAuditWrite,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"app":        CodeAppNotFound,
		"rg":         CodeRGNotFound,
		"preset":     CodePresetNotFound,
		"store":      CodeRecordNotFound,
		"context":    CodeContextNotFound,
		"annotation": CodeAnnotationAbsent,
	},
	ErrDuplicate: {
		"preset": CodePresetDuplicate,
	},
	ErrTimeout: {
		"location": CodeLocationTimeout,
	},
	ErrPermissionDenied: {
		"plugin": CodeDownloadDenied,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
