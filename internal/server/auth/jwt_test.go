package auth

import (
	"testing"
	"time"

	"github.com/mamyekta/novabot/internal/common"
)

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")

	tok, err := GenerateToken("operator", secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	subject, err := SubjectFromToken(tok, secret)
	if err != nil {
		t.Fatalf("SubjectFromToken error: %v", err)
	}
	if subject != "operator" {
		t.Fatalf("subject mismatch: got %q want %q", subject, "operator")
	}
}

func TestSubjectFromToken_Expired(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken("operator", []byte("secret"), -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = SubjectFromToken(tok, []byte("secret"))
	if err == nil {
		t.Fatalf("expected error for expired token, got nil")
	}
}

func TestSubjectFromToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken("operator", []byte("right-secret"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = SubjectFromToken(tok, []byte("wrong-secret"))
	if err == nil {
		t.Fatalf("expected error for invalid signature, got nil")
	}
}

func TestSubjectFromToken_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := SubjectFromToken("not.a.jwt", []byte("k"))
	if err == nil {
		t.Fatalf("expected error for malformed token, got nil")
	}
}

func TestCheckPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}

	if err := CheckPassword(hash, "hunter2"); err != nil {
		t.Fatalf("CheckPassword error: %v", err)
	}
	if err := CheckPassword(hash, "wrong"); err != common.ErrUnauthorized {
		t.Fatalf("expected common.ErrUnauthorized, got %v", err)
	}
}
