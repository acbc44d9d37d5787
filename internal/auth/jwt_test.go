package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

const testKey = "test-signing-key"

func TestIssueAndParse(t *testing.T) {
	subject := uuid.New().String()

	pair, err := Issue(subject, RoleDoctor, "classattend", testKey, time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", pair)
	}

	claims, err := Parse(pair.AccessToken, testKey, "classattend")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != subject {
		t.Fatalf("expected subject %s, got %s", subject, claims.Subject)
	}
	if claims.Role != RoleDoctor {
		t.Fatalf("expected role doctor, got %s", claims.Role)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue(uuid.New().String(), RoleStudent, "classattend", testKey, time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "other-key", "classattend"); err == nil {
		t.Fatalf("expected signature verification to fail")
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	pair, err := Issue(uuid.New().String(), RoleStudent, "someone-else", testKey, time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, testKey, "classattend"); err == nil {
		t.Fatalf("expected issuer check to fail")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	pair, err := Issue(uuid.New().String(), RoleStudent, "classattend", testKey, -time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, testKey, "classattend"); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}
