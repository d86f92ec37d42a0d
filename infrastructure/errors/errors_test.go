package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestEngineError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *EngineError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(ErrCodeValue, "test message", http.StatusBadRequest),
			want: "[VALUE_3001] test message",
		},
		{
			name: "error with underlying error",
			err:  Wrap(ErrCodeEvaluation, "test message", http.StatusUnprocessableEntity, errors.New("underlying")),
			want: "[EVAL_6001] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEngineError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(ErrCodeEvaluation, "test", http.StatusUnprocessableEntity, underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestEngineError_WithDetails(t *testing.T) {
	err := New(ErrCodeValue, "test", http.StatusBadRequest)
	err.WithDetails("field", "depends").WithDetails("reason", "unregistered database")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "depends" {
		t.Errorf("Details[field] = %v, want depends", err.Details["field"])
	}
}

func TestIntegrity(t *testing.T) {
	err := Integrity("group name reserved")

	if err.Code != ErrCodeIntegrity {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeIntegrity)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
	if err.Details["reason"] != "group name reserved" {
		t.Errorf("Details[reason] = %v, want group name reserved", err.Details["reason"])
	}
}

func TestIntegrityWrap(t *testing.T) {
	underlying := errors.New("unique violation")
	err := IntegrityWrap("duplicate name", underlying)

	if err.Code != ErrCodeIntegrity {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeIntegrity)
	}
	if err.Err != underlying {
		t.Errorf("Err = %v, want %v", err.Err, underlying)
	}
}

func TestMissingNameErr(t *testing.T) {
	err := MissingName("foo", "project")

	if err.Code != ErrCodeMissingName {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeMissingName)
	}
	if err.HTTPStatus != http.StatusUnprocessableEntity {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusUnprocessableEntity)
	}
	if err.Details["name"] != "foo" {
		t.Errorf("Details[name] = %v, want foo", err.Details["name"])
	}
	if err.Details["scope"] != "project" {
		t.Errorf("Details[scope] = %v, want project", err.Details["scope"])
	}
}

func TestValueErr(t *testing.T) {
	err := ValueErr("depends must be project, a registered database, or an existing group")

	if err.Code != ErrCodeValue {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeValue)
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadRequest)
	}
}

func TestTypeErr(t *testing.T) {
	err := TypeErr("cannot compare ProjectParameter with int")

	if err.Code != ErrCodeType {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeType)
	}
}

func TestAssertion(t *testing.T) {
	err := Assertion("duplicate names in batch")

	if err.Code != ErrCodeAssertion {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeAssertion)
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadRequest)
	}
}

func TestEvaluation(t *testing.T) {
	underlying := errors.New("division by zero")
	err := Evaluation("1/0", underlying)

	if err.Code != ErrCodeEvaluation {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeEvaluation)
	}
	if err.Details["formula"] != "1/0" {
		t.Errorf("Details[formula] = %v, want 1/0", err.Details["formula"])
	}
}

func TestIsEngineError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "engine error", err: New(ErrCodeValue, "test", http.StatusBadRequest), want: true},
		{name: "standard error", err: errors.New("standard error"), want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsEngineError(tt.err); got != tt.want {
				t.Errorf("IsEngineError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEngineError(t *testing.T) {
	engineErr := New(ErrCodeValue, "test", http.StatusBadRequest)
	standardErr := errors.New("standard error")

	tests := []struct {
		name string
		err  error
		want *EngineError
	}{
		{name: "engine error", err: engineErr, want: engineErr},
		{name: "standard error", err: standardErr, want: nil},
		{name: "nil error", err: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetEngineError(tt.err)
			if got != tt.want {
				t.Errorf("GetEngineError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "engine error", err: New(ErrCodeMissingName, "test", http.StatusUnprocessableEntity), want: http.StatusUnprocessableEntity},
		{name: "standard error", err: errors.New("standard error"), want: http.StatusInternalServerError},
		{name: "nil error", err: nil, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatus(tt.err); got != tt.want {
				t.Errorf("GetHTTPStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := Integrity("cycle")
	if !Is(err, ErrCodeIntegrity) {
		t.Errorf("expected Is to match ErrCodeIntegrity")
	}
	if Is(err, ErrCodeValue) {
		t.Errorf("expected Is to not match ErrCodeValue")
	}
	if Is(errors.New("plain"), ErrCodeIntegrity) {
		t.Errorf("expected Is to not match a plain error")
	}
}
