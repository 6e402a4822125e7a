package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	digest, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if digest == "correct horse battery" {
		t.Fatal("digest should not equal the plaintext")
	}

	if !CheckPassword(digest, "correct horse battery") {
		t.Error("correct password rejected")
	}
	if CheckPassword(digest, "wrong password") {
		t.Error("wrong password accepted")
	}
	if CheckPassword("", "anything") {
		t.Error("empty digest accepted")
	}
}

func TestGenerateConfirmationToken(t *testing.T) {
	token, err := GenerateConfirmationToken()
	if err != nil {
		t.Fatalf("GenerateConfirmationToken failed: %v", err)
	}
	// 20 random bytes hex-encode to 40 characters.
	if len(token) != 40 {
		t.Errorf("expected token length 40, got %d", len(token))
	}

	other, err := GenerateConfirmationToken()
	if err != nil {
		t.Fatalf("GenerateConfirmationToken failed: %v", err)
	}
	if token == other {
		t.Error("two tokens should not collide")
	}
}
