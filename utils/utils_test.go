package utils

import (
	"strings"
	"testing"
)

func TestGenKSortedID(t *testing.T) {
	a := GenKSortedID("mrg_")
	b := GenKSortedID("mrg_")
	if !strings.HasPrefix(a, "mrg_") {
		t.Fatalf("missing prefix: %s", a)
	}
	if len(a) != len("mrg_")+27 {
		t.Fatalf("unexpected ksuid length: %s", a)
	}
	if a == b {
		t.Fatal("two generated ids must differ")
	}
}

func TestGenRandomID(t *testing.T) {
	id := GenRandomID("bat_")
	if !strings.HasPrefix(id, "bat_") {
		t.Fatalf("missing prefix: %s", id)
	}
	if len(id) != len("bat_")+22 {
		t.Fatalf("unexpected id length: %s", id)
	}
	for _, r := range id[len("bat_"):] {
		if !strings.ContainsRune("abcdefghijklmonpqrstuvwxyzABCDEFGHIJKLMONPQRSTUVWXYZ0123456789", r) {
			t.Fatalf("unexpected character %q in %s", r, id)
		}
	}
}

func TestHashBytesStable(t *testing.T) {
	a := HashBytes([]byte("blocks"))
	b := HashBytes([]byte("blocks"))
	if string(a) != string(b) {
		t.Fatal("hash must be deterministic")
	}
	if len(a) != 32 {
		t.Fatalf("expected a 32 byte digest, got %d", len(a))
	}
	if string(a) == string(HashBytes([]byte("other"))) {
		t.Fatal("different content must hash differently")
	}
}
