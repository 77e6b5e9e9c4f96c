package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("nodes[0].agent_ref", ErrCodeValidation, "agent not found")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "nodes[0].agent_ref", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, "agent not found", r.Errors[0].Message)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("nodes[1].inputs.tom", ErrCodeValidation, "high retry count")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")
	r1.AddWarning("/", ErrCodeValidation, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("edges[0]", ErrCodeGraphIntegrity, "err2")
	r2.AddWarning("nodes[1]", ErrCodeValidation, "warn2")

	r1.Merge(r2)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_MergeNil(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err")
	r.Merge(nil)
	assert.Len(t, r.Errors, 1)
}

func TestValidationResult_ToError_Valid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/", ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError())
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("nodes[0].agent_ref", ErrCodeValidation, "agent not found")

	err := r.ToError()
	require.NotNil(t, err)

	agErr, ok := err.(*AgentGraphError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, agErr.Code)
	assert.Equal(t, "agent not found", agErr.Message)
	assert.Equal(t, 1, agErr.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err1")
	r.AddError("/", ErrCodeValidation, "err2")
	r.AddWarning("/", ErrCodeValidation, "warn1")

	err := r.ToError()
	require.NotNil(t, err)

	agErr, ok := err.(*AgentGraphError)
	require.True(t, ok)
	assert.Contains(t, agErr.Message, "2 errors")
	assert.Equal(t, 2, agErr.Details["error_count"])
	assert.Equal(t, 1, agErr.Details["warning_count"])
}

func TestValidationResult_ToError_UsesFirstCode(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("edges[2].target", ErrCodeGraphIntegrity, "edge targets missing node")

	err := r.ToError()
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeGraphIntegrity))
}
