// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeDatabaseOpenFailure    Code = "database.open.failure"
	CodeDatabaseMigrateFailure Code = "database.migrate.failure"

	CodeIndexStorageFailure      Code = "index.storage.failure"
	CodeIndexStorageInvalidInput Code = "index.storage.invalid_input"
	CodeIndexQueryInvalid        Code = "index.query.invalid"
	CodeIndexQueryFailure        Code = "index.query.failure"
	CodeIndexDocumentNotFound    Code = "index.document.not_found"
	CodeIndexBackendUnsupported  Code = "index.backend.unsupported"
	CodeIndexBackendConflict     Code = "index.backend.conflict"
	CodeIndexContentBlocked      Code = "index.content.blocked"

	CodeCrawlerFetchFailure   Code = "crawler.fetch.failure"
	CodeCrawlerParseFailure   Code = "crawler.parse.failure"
	CodeCrawlerRequestInvalid Code = "crawler.request.invalid"

	CodeAgentExecutionFailure Code = "agent.execution.failure"
	CodeAgentTaskInvalid      Code = "agent.task.invalid"
	CodeAgentExecutionTimeout Code = "agent.execution.timeout"
	CodeAgentNotFound         Code = "agent.registry.not_found"
	CodeAgentTaskNotFound     Code = "agent.task.not_found"
	CodeAgentRegistryConflict Code = "agent.registry.conflict"

	CodeQueryPlanInvalid        Code = "query.plan.invalid"
	CodeQueryBackendUnavailable Code = "query.backend.unavailable"
	CodeQueryActionFailure      Code = "query.action.failure"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderResponseInvalid Code = "provider.response.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderNotFound        Code = "provider.registry.not_found"
	CodeProviderAllUnavailable  Code = "provider.routing.all_unavailable"
	CodeProviderKeyInvalid      Code = "provider.key.invalid"
	CodeProviderKeyCheckFailed  Code = "provider.key.check_failure"

	CodeSecretInvalidInput   Code = "secret.uri.invalid_input"
	CodeSecretResolveFailure Code = "secret.resolve.failure"
	CodeSecretNotFound       Code = "secret.store.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerEntityNotFound  Code = "server.entity.not_found"
	CodeServerConfigInvalid   Code = "server.config.invalid"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"

	CodeCLIRequestFailure Code = "cli.request.failure"
	CodeCLISetupFailure   Code = "cli.setup.failure"
	CodeCLIInputInvalid   Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldTaskID(value string) Attr {
	return Field("task_id", value)
}

func FieldDocumentID(value string) Attr {
	return Field("document_id", value)
}

func FieldBackend(value string) Attr {
	return Field("backend", value)
}

func FieldAgent(value string) Attr {
	return Field("agent", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

// IsConfigError reports whether err belongs to the configuration family.
func IsConfigError(err error) bool {
	return area(CodeOf(err)) == "config"
}

// IsDatabaseError reports whether err belongs to the database family.
func IsDatabaseError(err error) bool {
	return area(CodeOf(err)) == "database"
}

// IsStorageError reports whether err is an index storage failure.
func IsStorageError(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "index.storage.")
}

// IsQueryError reports whether err is a malformed or failed query, raised
// either by a backend or by the planner.
func IsQueryError(err error) bool {
	code := string(CodeOf(err))
	return strings.HasPrefix(code, "index.query.") || strings.HasPrefix(code, "query.")
}

// IsCrawlerError reports whether err belongs to the crawler family.
func IsCrawlerError(err error) bool {
	return area(CodeOf(err)) == "crawler"
}

// IsInvalidTask reports whether err rejected a task as malformed.
// Such failures are caller errors and are never retried.
func IsInvalidTask(err error) bool {
	return HasCode(err, CodeAgentTaskInvalid)
}

// IsExecutionFailed reports whether an agent failed while executing.
func IsExecutionFailed(err error) bool {
	return HasCode(err, CodeAgentExecutionFailure)
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	case HasCode(err, CodeQueryBackendUnavailable), HasCode(err, CodeProviderAllUnavailable):
		return http.StatusServiceUnavailable
	case HasCode(err, CodeIndexBackendConflict):
		return http.StatusConflict
	case HasCode(err, CodeAgentRegistryConflict):
		return http.StatusConflict
	case HasCode(err, CodeIndexContentBlocked):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeServerInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}

func area(code Code) string {
	raw := string(code)
	if idx := strings.Index(raw, "."); idx > 0 {
		return raw[:idx]
	}
	return raw
}
