package password

import "testing"

func BenchmarkHash_DefaultConfig(b *testing.B) {
	h := NewHasher(DefaultConfig())
	pw := "this is a strong password 123!"

	b.ResetTimer()
	for b.Loop() {
		if _, err := h.Hash(pw); err != nil {
			b.Fatalf("Hash error: %v", err)
		}
	}
}

func BenchmarkVerify_DefaultConfig(b *testing.B) {
	h := NewHasher(DefaultConfig())
	pw := "this is a strong password 123!"
	digest, err := h.Hash(pw)
	if err != nil {
		b.Fatalf("Hash error: %v", err)
	}

	b.ResetTimer()
	for b.Loop() {
		if !h.Verify(pw, digest) {
			b.Fatalf("Verify failed")
		}
	}
}
