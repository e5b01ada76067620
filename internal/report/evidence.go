package report

import (
	"context"
	"fmt"

	"etlverify/internal/ledger"
	"etlverify/internal/security"
	"etlverify/internal/storage"
	"etlverify/pkg/utils"
)

// EvidenceSink stores each record as a file and seals its hash into the
// ledger, so the audit trail of a run can be verified later.
type EvidenceSink struct {
	RunID   string
	AgentID string
	Storage *storage.EvidenceStorage
	Ledger  *ledger.Ledger
	Keys    security.KeyPair
	// OnSeal, when set, is called after each block is appended.
	OnSeal func(*ledger.Block)
}

func (s *EvidenceSink) Record(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.Storage.Save(s.RunID, rec.Title, rec.Content)
	if err != nil {
		return fmt.Errorf("save evidence %q: %w", rec.Title, err)
	}
	if s.Ledger == nil {
		return nil
	}
	hash, err := utils.HashFile(path)
	if err != nil {
		return fmt.Errorf("hash evidence %q: %w", rec.Title, err)
	}
	blk := ledger.NewBlock(s.RunID, rec.Title, path, hash, s.AgentID)
	if err := s.Ledger.Seal(blk, s.Keys); err != nil {
		return fmt.Errorf("seal evidence %q: %w", rec.Title, err)
	}
	if s.OnSeal != nil {
		s.OnSeal(blk)
	}
	return nil
}
