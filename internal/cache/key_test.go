package cache

import "testing"

func TestComputedKeyIsIdempotent(t *testing.T) {
	if ComputedKey("https://a/b.png", "") != "https://a/b.png" {
		t.Fatalf("default processor must not change the key")
	}
	first := ComputedKey("https://a/b.png", "r")
	if first == "https://a/b.png" {
		t.Fatalf("processor id must change the key")
	}
	if first != ComputedKey("https://a/b.png", "r") {
		t.Fatalf("computed key must be stable")
	}
	if first != "https://a/b.png@r" {
		t.Fatalf("unexpected computed key %q", first)
	}
}

func TestHashIsHexMD5(t *testing.T) {
	// md5("abc")
	if got := Hash("abc"); got != "900150983cd24fb0d6963f7d28e17f72" {
		t.Fatalf("unexpected hash %s", got)
	}
	if Hash("k") == Hash(ComputedKey("k", "p")) {
		t.Fatalf("processed entries must hash differently")
	}
}
