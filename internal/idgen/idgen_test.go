package idgen

import "testing"

func TestNewPrefixAndDistinct(t *testing.T) {
	a := Event()
	b := Event()
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	for _, id := range []string{a, b} {
		if id[:3] != "ev_" {
			t.Errorf("id %q does not start with ev_", id)
		}
	}
}

func TestBatchID(t *testing.T) {
	cases := []struct {
		n      int
		suffix string
		want   string
	}{
		{3, "", "b3"},
		{3, "from_decide", "b3.from_decide"},
		{12, "after_user", "b12.after_user"},
	}
	for _, c := range cases {
		if got := Batch(c.n, c.suffix); got != c.want {
			t.Errorf("Batch(%d, %q) = %q, want %q", c.n, c.suffix, got, c.want)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	in := "  All   DONE.\tRunning ls\n"
	want := "all done. running ls"
	if got := NormalizeText(in); got != want {
		t.Errorf("NormalizeText(%q) = %q, want %q", in, got, want)
	}
}

func TestClaimSignatureStableAndDistinct(t *testing.T) {
	s1 := ClaimSignature("preference", "project", "proj1", "  Use   Go fmt  ")
	s2 := ClaimSignature("preference", "project", "proj1", "use go fmt")
	if s1 != s2 {
		t.Errorf("claim signatures should be equal after normalization: %q != %q", s1, s2)
	}
	s3 := ClaimSignature("preference", "global", "proj1", "use go fmt")
	if s1 == s3 {
		t.Errorf("different scope must change signature")
	}
}

func TestLoopSignatureNormalizesEachSide(t *testing.T) {
	s1 := LoopSignature("Still Working.", "do next")
	s2 := LoopSignature("still   working.", "DO NEXT")
	if s1 != s2 {
		t.Errorf("loop signatures should match after normalization")
	}
	s3 := LoopSignature("still working.", "do something else")
	if s1 == s3 {
		t.Errorf("different next_input must change signature")
	}
}
