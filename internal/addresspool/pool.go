// Package addresspool maintains a FIFO of pre-minted node addresses,
// batch-refilled to amortize RPC round trips, the same "draw ahead"
// idiom the vault-plugin wallet paths use for change addresses.
package addresspool

import (
	"fmt"
	"sync"
)

// Role labels why an address was minted. Purely advisory bookkeeping;
// the node itself doesn't distinguish these.
type Role string

const (
	RoleDeposit Role = "deposit"
	RoleMix     Role = "mix"
	RoleShard   Role = "shard"
	RoleHop     Role = "hop"
	RoleChange  Role = "change"
	RoleFee     Role = "fee"
)

// Minter issues a fresh address from the node, labeled by role.
type Minter interface {
	NewAddress(label string) (string, error)
}

// Pool draws addresses from a Minter, keeping a small FIFO buffer per
// role so a burst of shard/hop sends doesn't serialize on RPC
// latency one address at a time.
type Pool struct {
	mu        sync.Mutex
	minter    Minter
	batchSize int
	buffers   map[Role][]string
}

// New constructs a Pool that refills batchSize addresses at a time.
func New(minter Minter, batchSize int) *Pool {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Pool{
		minter:    minter,
		batchSize: batchSize,
		buffers:   make(map[Role][]string),
	}
}

// Take returns the next address for role, minting a fresh batch if
// the buffer for that role is empty. Failure to mint is fatal to the
// caller's step, per spec.md §4.2 ("new_address(role) — failure is
// fatal to the calling step").
func (p *Pool) Take(role Role) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := p.buffers[role]
	if len(buf) == 0 {
		if err := p.refillLocked(role); err != nil {
			return "", err
		}
		buf = p.buffers[role]
	}
	if len(buf) == 0 {
		return "", fmt.Errorf("addresspool: no address minted for role %q", role)
	}
	addr := buf[0]
	p.buffers[role] = buf[1:]
	return addr, nil
}

func (p *Pool) refillLocked(role Role) error {
	label := fmt.Sprintf("mixd-%s", role)
	minted := make([]string, 0, p.batchSize)
	for i := 0; i < p.batchSize; i++ {
		addr, err := p.minter.NewAddress(label)
		if err != nil {
			if len(minted) > 0 {
				// keep whatever we already minted; surface the error
				// only if we came away empty-handed.
				break
			}
			return fmt.Errorf("addresspool: mint %s address: %w", role, err)
		}
		minted = append(minted, addr)
	}
	p.buffers[role] = append(p.buffers[role], minted...)
	return nil
}

// Buffered reports how many addresses are currently sitting in the
// buffer for role, for diagnostics/tests.
func (p *Pool) Buffered(role Role) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers[role])
}
