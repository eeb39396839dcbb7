// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// New / Errorf
// ---------------------------------------------------------------------------

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := sorcerr.New(
		sorcerr.CodeIndexStorageFailure,
		"writing document",
		sorcerr.FieldDocumentID("doc-1"),
		sorcerr.FieldBackend("keyword"),
	)

	require.Error(t, err)
	assert.Equal(t, sorcerr.CodeIndexStorageFailure, sorcerr.CodeOf(err))
	assert.True(t, sorcerr.HasCode(err, sorcerr.CodeIndexStorageFailure))

	fields := sorcerr.FieldsOf(err)
	assert.Equal(t, "doc-1", fields["document_id"])
	assert.Equal(t, "keyword", fields["backend"])
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := sorcerr.Errorf(sorcerr.CodeDatabaseOpenFailure, "opening index: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "opening index")
	assert.Equal(t, sorcerr.CodeDatabaseOpenFailure, sorcerr.CodeOf(err))
}

// ---------------------------------------------------------------------------
// Wrap / Wrapf / With
// ---------------------------------------------------------------------------

func TestWrapPreservesWrappedErrorAndCode(t *testing.T) {
	root := stderrors.New("record missing")
	err := sorcerr.Wrap(root, sorcerr.CodeIndexDocumentNotFound, "loading document", sorcerr.FieldDocumentID("d-42"))

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.True(t, sorcerr.IsNotFound(err))
	assert.Equal(t, "d-42", sorcerr.FieldsOf(err)["document_id"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, sorcerr.Wrap(nil, sorcerr.CodeIndexStorageFailure, "noop"))
	assert.NoError(t, sorcerr.Wrapf(nil, sorcerr.CodeIndexStorageFailure, "noop %d", 1))
	assert.NoError(t, sorcerr.With(nil, sorcerr.FieldTaskID("t")))
}

func TestWithAddsContextWithoutChangingCode(t *testing.T) {
	err := sorcerr.New(sorcerr.CodeAgentExecutionFailure, "agent crashed")
	withCtx := sorcerr.With(err, sorcerr.FieldTaskID("task-9"), sorcerr.FieldAgent("scout-1"))

	assert.Equal(t, sorcerr.CodeAgentExecutionFailure, sorcerr.CodeOf(withCtx))
	fields := sorcerr.FieldsOf(withCtx)
	assert.Equal(t, "task-9", fields["task_id"])
	assert.Equal(t, "scout-1", fields["agent"])
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	err := sorcerr.With(stderrors.New("plain"), sorcerr.Field("k", "v"))
	assert.Equal(t, sorcerr.CodeServerInternalFailure, sorcerr.CodeOf(err))
}

func TestCodeOfReturnsInnermostCodedError(t *testing.T) {
	inner := sorcerr.New(sorcerr.CodeIndexStorageFailure, "db")
	outer := sorcerr.Wrap(inner, sorcerr.CodeServerInternalFailure, "handler")
	assert.Equal(t, sorcerr.CodeIndexStorageFailure, sorcerr.CodeOf(outer))
}

func TestCodeOfPlainAndNil(t *testing.T) {
	assert.Equal(t, sorcerr.Code(""), sorcerr.CodeOf(nil))
	assert.Equal(t, sorcerr.Code(""), sorcerr.CodeOf(stderrors.New("plain")))
	assert.Nil(t, sorcerr.FieldsOf(nil))
}

func TestFieldsWithEmptyKeyAreIgnored(t *testing.T) {
	err := sorcerr.New(sorcerr.CodeQueryPlanInvalid, "bad", sorcerr.Field("", "dropped"), sorcerr.Field("mode", "graph"))
	fields := sorcerr.FieldsOf(err)
	assert.Equal(t, "graph", fields["mode"])
	_, ok := fields[""]
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Taxonomy predicates
// ---------------------------------------------------------------------------

func TestTaxonomyPredicates(t *testing.T) {
	tests := []struct {
		name  string
		code  sorcerr.Code
		check func(error) bool
	}{
		{name: "config read", code: sorcerr.CodeConfigLoadReadFailure, check: sorcerr.IsConfigError},
		{name: "config invalid", code: sorcerr.CodeConfigValidateInvalidValue, check: sorcerr.IsConfigError},
		{name: "database open", code: sorcerr.CodeDatabaseOpenFailure, check: sorcerr.IsDatabaseError},
		{name: "storage failure", code: sorcerr.CodeIndexStorageFailure, check: sorcerr.IsStorageError},
		{name: "storage invalid", code: sorcerr.CodeIndexStorageInvalidInput, check: sorcerr.IsStorageError},
		{name: "index query invalid", code: sorcerr.CodeIndexQueryInvalid, check: sorcerr.IsQueryError},
		{name: "index query failure", code: sorcerr.CodeIndexQueryFailure, check: sorcerr.IsQueryError},
		{name: "planner invalid", code: sorcerr.CodeQueryPlanInvalid, check: sorcerr.IsQueryError},
		{name: "not found", code: sorcerr.CodeIndexDocumentNotFound, check: sorcerr.IsNotFound},
		{name: "crawler fetch", code: sorcerr.CodeCrawlerFetchFailure, check: sorcerr.IsCrawlerError},
		{name: "execution failed", code: sorcerr.CodeAgentExecutionFailure, check: sorcerr.IsExecutionFailed},
		{name: "invalid task", code: sorcerr.CodeAgentTaskInvalid, check: sorcerr.IsInvalidTask},
		{name: "timeout", code: sorcerr.CodeAgentExecutionTimeout, check: sorcerr.IsTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(sorcerr.New(tt.code, "boom")))
		})
	}
}

func TestTaxonomyNegativeCases(t *testing.T) {
	storage := sorcerr.New(sorcerr.CodeIndexStorageFailure, "boom")
	assert.False(t, sorcerr.IsQueryError(storage))
	assert.False(t, sorcerr.IsNotFound(storage))
	assert.False(t, sorcerr.IsTimeout(storage))

	invalid := sorcerr.New(sorcerr.CodeAgentTaskInvalid, "boom")
	assert.False(t, sorcerr.IsExecutionFailed(invalid))

	plain := stderrors.New("plain")
	assert.False(t, sorcerr.IsStorageError(plain))
	assert.False(t, sorcerr.IsConfigError(plain))
	assert.False(t, sorcerr.IsInvalidTask(nil))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   sorcerr.Code
		status int
	}{
		{sorcerr.CodeIndexDocumentNotFound, http.StatusNotFound},
		{sorcerr.CodeServerEntityNotFound, http.StatusNotFound},
		{sorcerr.CodeIndexQueryInvalid, http.StatusBadRequest},
		{sorcerr.CodeConfigValidateInvalidValue, http.StatusBadRequest},
		{sorcerr.CodeIndexStorageInvalidInput, http.StatusBadRequest},
		{sorcerr.CodeAgentExecutionTimeout, http.StatusGatewayTimeout},
		{sorcerr.CodeProviderUpstreamFailure, http.StatusBadGateway},
		{sorcerr.CodeIndexBackendConflict, http.StatusConflict},
		{sorcerr.CodeIndexContentBlocked, http.StatusUnprocessableEntity},
		{sorcerr.CodeQueryBackendUnavailable, http.StatusServiceUnavailable},
		{sorcerr.CodeAgentTaskInvalid, http.StatusBadRequest},
		{sorcerr.CodeIndexStorageFailure, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, sorcerr.HTTPStatus(sorcerr.New(tt.code, "boom")))
		})
	}

	assert.Equal(t, http.StatusInternalServerError, sorcerr.HTTPStatus(stderrors.New("plain")))
}

func TestJoinCombinesErrors(t *testing.T) {
	e1 := stderrors.New("first")
	e2 := stderrors.New("second")
	joined := sorcerr.Join(e1, e2)

	require.Error(t, joined)
	assert.ErrorIs(t, joined, e1)
	assert.ErrorIs(t, joined, e2)
	assert.NoError(t, sorcerr.Join())
}
