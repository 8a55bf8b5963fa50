// Package cpu implements the execution engine of the custom 32-bit
// load/store RISC-like architecture: 16 general-purpose registers, a
// program counter, NZCV flags, and a decode/dispatch loop driven against a
// memory-mapped system bus.
package cpu

import (
	"errors"

	"b32/bits"
	"b32/mem"
)

// Cpu has no memory of its own beyond its small register file; all memory
// traffic goes through Bus, which owns the RAM/ROM cells and the virtual
// memory unit. Accesses made during instruction fetch and load/store are
// always memory-mapped, so every program runs behind the VM's translation.
type Cpu struct {
	Bus *mem.Bus

	regs  [NumRegisters]bits.Word
	PC    bits.Word
	Flags Flags

	// Exception is nil while the Cpu is running; Run/Step leave it set
	// after a HALT or an unrecoverable fault.
	Exception *Exception
}

// NewCpu returns a Cpu wired to bus, with all registers, PC and flags
// zeroed.
func NewCpu(bus *mem.Bus) *Cpu {
	return &Cpu{Bus: bus}
}

// Reset restores architectural state to power-up values. It does not reset
// the bus or its attached memories; call Bus.Reset for that.
func (c *Cpu) Reset() {
	c.regs = [NumRegisters]bits.Word{}
	c.PC = 0
	c.Flags = Flags{}
	c.Exception = nil
}

// busExceptionKind classifies a mem package error into the CPU's exception
// taxonomy: a VM_FAULT (page-fault handling failure) becomes VM, anything
// else routing/bounds related becomes BUS.
func busExceptionKind(err error) ExceptionKind {
	if errors.Is(err, mem.Sentinel(mem.VMFault)) {
		return VM
	}
	return BUS
}

// Step fetches, decodes, and executes one instruction. If the Cpu already
// has a pending exception it is a no-op (the loop is expected to have
// stopped calling Step). Faults raised during fetch leave PC at the
// faulting address; faults raised during execute leave PC already advanced
// past the faulting instruction, since PC is pre-incremented before dispatch,
// ahead of any further branch-driven PC mutation.
func (c *Cpu) Step() {
	if c.Halted() {
		return
	}

	faultPC := c.PC
	word, err := c.Bus.ReadWord(faultPC, true)
	if err != nil {
		c.raise(busExceptionKind(err), faultPC, err.Error())
		return
	}
	c.PC = faultPC + 4

	op := DecodeOpcode(word)
	exec, ok := dispatch[op]
	if !ok {
		c.raise(DECODE, faultPC, "unrecognized opcode")
		return
	}
	exec(c, word, faultPC)
}

// Run executes up to maxInstructions instructions, stopping early once an
// exception (including HALT) is pending.
func (c *Cpu) Run(maxInstructions int) {
	for i := 0; i < maxInstructions && !c.Halted(); i++ {
		c.Step()
	}
}

// LoadWord stores word at addr through the bus, memory-mapped. Convenience
// for tests and loaders seeding a program image ahead of Run.
func (c *Cpu) LoadWord(addr, word bits.Word) error {
	return c.Bus.WriteWord(addr, word, true)
}
