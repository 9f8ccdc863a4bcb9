package containerwork

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/kadds/job-judge/pkg/apperror"
)

// ChainDigest folds an image's rootfs.diff_ids into the chain id snapshotd
// uses as the parent key for the topmost layer's snapshot: the first layer
// seeds the chain, and each subsequent layer folds in as
// sha256(prev + " " + diffID).
func ChainDigest(diffIDs []string) (string, error) {
	if len(diffIDs) == 0 {
		return "", apperror.New(apperror.CodeImageDigestFailed, "image has no layers")
	}

	chain := diffIDs[0]
	for _, diffID := range diffIDs[1:] {
		sum := sha256.Sum256([]byte(chain + " " + diffID))
		chain = "sha256:" + hex.EncodeToString(sum[:])
	}

	if _, err := parseDigest(chain); err != nil {
		return "", apperror.Wrap(err, apperror.CodeImageDigestFailed, "chain digest folding produced a malformed digest")
	}
	return chain, nil
}

// parseDigest validates the sha256:<64-hex> shape without pulling in a
// digest library for a one-line check.
func parseDigest(d string) (string, error) {
	const prefix = "sha256:"
	if len(d) != len(prefix)+64 || d[:len(prefix)] != prefix {
		return "", fmt.Errorf("containerwork: malformed digest %q", d)
	}
	if _, err := hex.DecodeString(d[len(prefix):]); err != nil {
		return "", err
	}
	return d, nil
}
