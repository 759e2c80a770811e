package memory

import (
	"context"
	"sync"

	"acorn/contexts/savings-incentives/boost-engine/ports"

	"github.com/google/uuid"
)

// Ledger is an in-process funds-transfer collaborator: it records every
// batch it is handed and answers success with per-boost transaction ids.
// Local runs wire it where production wires the real transfer service.
type Ledger struct {
	mu      sync.Mutex
	batches [][]ports.TransferInstruction
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Transfer(_ context.Context, instructions []ports.TransferInstruction) (ports.TransferResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.batches = append(l.batches, append([]ports.TransferInstruction(nil), instructions...))
	results := make(map[string]ports.TransferResult, len(instructions))
	for _, instruction := range instructions {
		txIDs := make(map[string]string, len(instruction.Recipients))
		var settled int64
		for _, recipient := range instruction.Recipients {
			txIDs[recipient.AccountID] = uuid.NewString()
			settled += recipient.Amount
		}
		results[instruction.BoostID] = ports.TransferResult{
			BoostID:        instruction.BoostID,
			AccountTxIDs:   txIDs,
			AmountSettled:  settled,
			TransferStatus: ports.TransferStatusSuccess,
		}
	}
	return ports.TransferResponse{Status: ports.TransferStatusSuccess, Results: results}, nil
}

// Batches returns a copy of every recorded transfer batch.
func (l *Ledger) Batches() [][]ports.TransferInstruction {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([][]ports.TransferInstruction(nil), l.batches...)
}

// Dispatcher is an in-process messaging collaborator that records every
// instruction handed to it.
type Dispatcher struct {
	mu           sync.Mutex
	instructions []ports.MessageInstruction
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) Dispatch(_ context.Context, instructions []ports.MessageInstruction) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.instructions = append(d.instructions, instructions...)
	return nil
}

func (d *Dispatcher) Instructions() []ports.MessageInstruction {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]ports.MessageInstruction(nil), d.instructions...)
}
