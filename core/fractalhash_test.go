package core

import "testing"

func TestFractalHashDeterministic(t *testing.T) {
	data := []byte("hello fractal vortex")
	a := FractalHash(data, 3)
	b := FractalHash(data, 3)
	if a.Digest != b.Digest {
		t.Fatalf("FractalHash not deterministic: %x != %x", a.Digest, b.Digest)
	}
	if a.EnergySignature != b.EnergySignature {
		t.Fatalf("energy signature not deterministic")
	}
}

func TestFractalHashLevelsChangeDigest(t *testing.T) {
	data := []byte("same input")
	d1 := FractalHash(data, 1)
	d3 := FractalHash(data, 3)
	if d1.Digest == d3.Digest {
		t.Fatalf("expected different digests for different mixing depths")
	}
}

func TestFractalHashIterationDepth(t *testing.T) {
	d := FractalHash([]byte("x"), 5)
	if d.IterationDepth != 5 {
		t.Fatalf("expected iteration depth 5, got %d", d.IterationDepth)
	}
}

func TestLeadingZeroBytes(t *testing.T) {
	cases := []struct {
		digest [32]byte
		want   int
	}{
		{[32]byte{}, 32},
		{[32]byte{0, 0, 1}, 2},
		{[32]byte{1}, 0},
	}
	for _, c := range cases {
		if got := leadingZeroBytes(c.digest); got != c.want {
			t.Fatalf("leadingZeroBytes(%v) = %d, want %d", c.digest, got, c.want)
		}
	}
}

func TestMineAndVerify(t *testing.T) {
	data := []byte("block-data")
	nonce, digest := Mine(data, 1, 2)
	if !Verify(data, nonce, 1, 2, digest) {
		t.Fatalf("expected mined nonce to verify")
	}
	if Verify(data, nonce+1, 1, 2, digest) {
		t.Fatalf("expected a different nonce to fail verification against the recorded digest")
	}
}

func TestVerifyRejectsInsufficientDifficulty(t *testing.T) {
	data := []byte("low-difficulty-data")
	digest := FractalHash(append(append([]byte{}, data...), NonceBytes(0)...), 2)
	if Verify(data, 0, 32, 2, digest) {
		t.Fatalf("expected verify to fail against an unreasonably high difficulty")
	}
}

func TestNonceBytesRoundTrip(t *testing.T) {
	data := []byte("abc")
	nonce, digest := Mine(data, 1, 1)
	buf := NonceBytes(nonce)
	recomputed := FractalHash(append(append([]byte{}, data...), buf...), 1)
	if recomputed.Digest != digest.Digest {
		t.Fatalf("NonceBytes encoding did not reproduce the mined digest")
	}
}
