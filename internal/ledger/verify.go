package ledger

import (
	"fmt"

	"etlverify/internal/security"
	"etlverify/pkg/utils"
)

// VerifyChain recomputes each block hash, its link, index and signature to
// detect tampering.
func (l *Ledger) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return verify(l.blocks)
}

func verify(blocks []*Block) error {
	for i, b := range blocks {
		if b.Index != i {
			return fmt.Errorf("index mismatch: expected %d got %d", i, b.Index)
		}

		h, err := b.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", b.Index, err)
		}
		if h != b.Hash {
			return fmt.Errorf("hash mismatch at index %d", b.Index)
		}

		prev := ""
		if i > 0 {
			prev = blocks[i-1].Hash
		}
		if b.PrevHash != prev {
			return fmt.Errorf("prev hash mismatch at index %d", b.Index)
		}

		ok, err := security.VerifySignatureFromHex(b.PubKey, []byte(b.Hash), b.Signature)
		if err != nil {
			return fmt.Errorf("signature at index %d: %w", b.Index, err)
		}
		if !ok {
			return fmt.Errorf("invalid signature at index %d", b.Index)
		}
	}
	return nil
}

// VerifyEvidence rehashes the evidence file behind every block, optionally
// only those of runID, and reports the first file that is missing or changed.
func (l *Ledger) VerifyEvidence(runID string) error {
	for _, b := range l.Blocks() {
		if runID != "" && b.RunID != runID {
			continue
		}
		h, err := utils.HashFile(b.LogPath)
		if err != nil {
			return fmt.Errorf("evidence of block %d: %w", b.Index, err)
		}
		if h != b.LogHash {
			return fmt.Errorf("evidence of block %d (%s) was modified", b.Index, b.LogPath)
		}
	}
	return nil
}
