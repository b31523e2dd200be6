package remote

import (
	"errors"
	"testing"
)

func TestNewSession(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		protocol Protocol
		wantType string
		wantErr  bool
	}{
		{"ftp", ProtocolFTP, "*remote.ftpSession", false},
		{"scp", ProtocolSCP, "*remote.scpSession", false},
		{"unknown", Protocol("telnet"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sess, err := NewSession(ConnectionParams{Protocol: tt.protocol})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error for unsupported protocol")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSession() error = %v", err)
			}
			if sess == nil {
				t.Fatal("NewSession() returned nil session")
			}
		})
	}
}

func TestBulkResult_Ok(t *testing.T) {
	t.Parallel()

	var r *BulkResult
	if r.Ok() {
		t.Error("nil BulkResult should not be Ok")
	}

	r = &BulkResult{}
	if !r.Ok() {
		t.Error("BulkResult with no errors should be Ok")
	}

	r.addError("upload", "/a/b", errors.New("boom"))
	if r.Ok() {
		t.Error("BulkResult with errors should not be Ok")
	}
	if len(r.Errors) != 1 {
		t.Fatalf("Errors len = %d, want 1", len(r.Errors))
	}
}

func TestTransferError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("connection reset")
	err := &TransferError{Op: "upload", Path: "/a", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("TransferError should unwrap to its underlying error")
	}
}
