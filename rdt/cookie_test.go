package rdt

import "testing"

func TestCookieJarGenerateVerify(t *testing.T) {
	jar, err := NewCookieJar()
	if err != nil {
		t.Fatalf("NewCookieJar: %v", err)
	}
	client := addr("127.0.0.1:4000")
	cookie, err := jar.Generate(client, 42)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(cookie) != CookieSize {
		t.Fatalf("len(cookie) = %d, want %d", len(cookie), CookieSize)
	}
	if !jar.Verify(client, 42, cookie) {
		t.Fatal("Verify rejected its own cookie")
	}
	if jar.Verify(client, 43, cookie) {
		t.Fatal("Verify accepted cookie for wrong seq")
	}
	other := addr("127.0.0.1:4001")
	if jar.Verify(other, 42, cookie) {
		t.Fatal("Verify accepted cookie for wrong address")
	}
}

func TestCookieJarsAreIndependent(t *testing.T) {
	jarA, _ := NewCookieJar()
	jarB, _ := NewCookieJar()
	client := addr("127.0.0.1:4000")
	cookie, _ := jarA.Generate(client, 1)
	if jarB.Verify(client, 1, cookie) {
		t.Fatal("different jars should not validate each other's cookies")
	}
}
