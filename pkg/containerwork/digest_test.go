package containerwork

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/kadds/job-judge/pkg/apperror"
)

func TestChainDigest_SingleLayerIsItself(t *testing.T) {
	const layer = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	got, err := ChainDigest([]string{layer})
	if err != nil {
		t.Fatalf("ChainDigest: %v", err)
	}
	if got != layer {
		t.Errorf("expected single-layer chain to equal the layer itself, got %s", got)
	}
}

func TestChainDigest_FoldsSequentially(t *testing.T) {
	layer0 := "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	layer1 := "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

	sum := sha256.Sum256([]byte(layer0 + " " + layer1))
	want := "sha256:" + hex.EncodeToString(sum[:])

	got, err := ChainDigest([]string{layer0, layer1})
	if err != nil {
		t.Fatalf("ChainDigest: %v", err)
	}
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestChainDigest_EmptyRejected(t *testing.T) {
	_, err := ChainDigest(nil)
	if err == nil {
		t.Fatal("expected empty layer list to be rejected")
	}
	if !apperror.Is(err, apperror.CodeImageDigestFailed) {
		t.Errorf("expected CodeImageDigestFailed, got %v", err)
	}
}

func TestParseDigest_RejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"sha256:short",
		"md5:0123456789012345678901234567890123456789012345678901234567890",
		"sha256:zzzzaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	}
	for _, c := range cases {
		if _, err := parseDigest(c); err == nil {
			t.Errorf("expected %q to be rejected", c)
		}
	}
}
