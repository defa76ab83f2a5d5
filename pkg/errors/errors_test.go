package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
		expose    bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true, expose: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required", expose: true},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied", expose: true},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found", expose: true},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected", detailsOK: true, expose: true},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true, expose: true},
		{code: CodeSignature, status: http.StatusBadRequest, publicMsg: "signature verification failed"},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
		if meta.ExposeMessage != tt.expose {
			t.Fatalf("code %s expected expose %v got %v", tt.code, tt.expose, meta.ExposeMessage)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("gateway timeout")
	wrapped := Wrap(CodeDependency, cause, "retrieve payment intent")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if !wrapped.Retryable() {
		t.Fatalf("dependency errors should be retryable")
	}
	if got := wrapped.Error(); got != "DEPENDENCY_ERROR: retrieve payment intent: gateway timeout" {
		t.Fatalf("unexpected error string %q", got)
	}
}

func TestCodeHelpersSeeThroughFmtWrapping(t *testing.T) {
	inner := Newf(CodeConflict, "insufficient stock for %s", "p-1").WithDetails(map[string]any{"product_id": "p-1"})
	err := fmt.Errorf("settle: %w", inner)

	if CodeOf(err) != CodeConflict {
		t.Fatalf("expected conflict code, got %s", CodeOf(err))
	}
	if !IsCode(err, CodeConflict) {
		t.Fatalf("IsCode should match wrapped typed errors")
	}
	if IsCode(stdErrors.New("plain"), CodeConflict) {
		t.Fatalf("plain errors carry no code")
	}
	if CodeOf(nil) != CodeInternal {
		t.Fatalf("nil error should map to internal")
	}
	if As(err).Details() == nil {
		t.Fatalf("details should survive wrapping")
	}
}

func TestDiagnoseCollectsPostgresDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23514", ConstraintName: "products_stock_nonnegative", TableName: "products"}
	err := Wrap(CodeConflict, fmt.Errorf("decrement stock: %w", pgErr), "insufficient stock")

	d := Diagnose(err)
	if d.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", d.Code)
	}
	if d.PG == nil || d.PG.Constraint != "products_stock_nonnegative" {
		t.Fatalf("expected pg constraint, got %+v", d.PG)
	}
	if len(d.Chain) < 2 {
		t.Fatalf("expected wrap chain, got %v", d.Chain)
	}
	if d.Fields()["pg_table"] != "products" {
		t.Fatalf("expected pg_table field")
	}
}

func TestDiagnoseWithoutPostgresError(t *testing.T) {
	d := Diagnose(stdErrors.New("plain"))
	if d.PG != nil {
		t.Fatalf("expected no pg details")
	}
	if _, ok := d.Fields()["pg_code"]; ok {
		t.Fatalf("pg fields must be omitted")
	}
}
