// Package ledger is an append-only, hash-chained and signed log of run
// evidence. The file format is JSON lines, one block per line.
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"etlverify/internal/security"
)

type Ledger struct {
	mu     sync.Mutex
	blocks []*Block
	path   string
}

// Open loads an existing ledger file or creates an empty one.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var blk Block
		if err := dec.Decode(&blk); err != nil {
			return nil, fmt.Errorf("decode ledger entry %d: %w", len(l.blocks), err)
		}
		l.blocks = append(l.blocks, &blk)
	}
	return l, nil
}

// Path returns the ledger file.
func (l *Ledger) Path() string { return l.path }

// Seal links b to the current head, hashes it, signs the hash with kp and
// appends it to the file and to memory. Concurrent callers are serialized.
func (l *Ledger) Seal(b *Block, kp security.KeyPair) error {
	if len(kp.Private) == 0 {
		return errors.New("private key is empty, cannot sign block")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b.Index = len(l.blocks)
	b.PrevHash = ""
	if n := len(l.blocks); n > 0 {
		b.PrevHash = l.blocks[n-1].Hash
	}
	h, err := b.ComputeHash()
	if err != nil {
		return fmt.Errorf("compute block hash: %w", err)
	}
	b.Hash = h
	b.Signature = security.SignData(kp.Private, []byte(b.Hash))
	b.PubKey = kp.PublicHex()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(b); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}
	l.blocks = append(l.blocks, b)
	return nil
}

// Blocks returns copies of every block in chain order.
func (l *Ledger) Blocks() []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Block, len(l.blocks))
	for i, b := range l.blocks {
		out[i] = *b
	}
	return out
}

// Len returns the number of sealed blocks.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// LastHash returns the head hash, or "" for an empty ledger.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.blocks) == 0 {
		return ""
	}
	return l.blocks[len(l.blocks)-1].Hash
}
