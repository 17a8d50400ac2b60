package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword_SaltedAndVerifiable(t *testing.T) {
	h1, err := hashPassword("hunter2", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashPassword() error = %v", err)
	}
	h2, err := hashPassword("hunter2", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashPassword() error = %v", err)
	}
	if h1 == h2 {
		t.Error("hashes of the same password must differ (salt)")
	}
	if !strings.HasPrefix(h1, "$2") {
		t.Errorf("unexpected hash format %q", h1)
	}

	ok, err := checkPassword(h1, "hunter2")
	if err != nil || !ok {
		t.Errorf("checkPassword(correct) = %v, %v", ok, err)
	}
	ok, err = checkPassword(h1, "hunter3")
	if err != nil || ok {
		t.Errorf("checkPassword(wrong) = %v, %v", ok, err)
	}
}

func TestCheckPassword_MalformedHash(t *testing.T) {
	if _, err := checkPassword("not-a-bcrypt-hash", "pw"); err == nil {
		t.Error("expected error for malformed hash")
	}
}
