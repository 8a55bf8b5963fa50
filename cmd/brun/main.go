// Command brun loads a .bexe executable, seeds a bus-backed Cpu with its
// text/data image, and either runs it to completion or hands it to the
// interactive register/memory debugger.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/davecgh/go-spew/spew"

	"b32/bits"
	"b32/cpu"
	"b32/link"
	"b32/mem"
	"b32/objfile"
)

const versionString = "brun 1.0.0"

func main() {
	versionShort := flag.Bool("v", false, "print version")
	versionLong := flag.Bool("version", false, "print version")
	debug := flag.Bool("debug", false, "launch the interactive bubbletea debugger instead of running to completion")
	maxInstructions := flag.Int("max", 1_000_000, "maximum instructions to execute before giving up")
	frames := flag.Int("frames", 4096, "number of physical page frames backing the VM")
	flag.Parse()

	if *versionShort || *versionLong {
		fmt.Println(versionString)
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		log.Fatal("brun: expected exactly one .bexe argument")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		log.Fatalf("brun: %v", err)
	}
	exe, err := objfile.Parse(data)
	if err != nil {
		log.Fatalf("brun: %s: %v", args[0], err)
	}
	if exe.Header.FileType != objfile.FileExecutable {
		log.Fatalf("brun: %s: not an executable (file type %s)", args[0], exe.Header.FileType)
	}

	c := newCpu(*frames)
	loadImage(c, exe)
	c.PC = exe.Header.EntryPoint

	if *debug {
		if err := cpu.Debugger(c, exe.Header.EntryPoint); err != nil {
			log.Fatalf("brun: %v", err)
		}
		return
	}

	c.Run(*maxInstructions)
	reportOutcome(c)
}

func newCpu(frames int) *cpu.Cpu {
	bus := mem.NewBus()
	phys := mem.NewRAM(0, bits.Word(frames-1), nil)
	if err := bus.Attach(phys); err != nil {
		log.Fatalf("brun: %v", err)
	}
	bus.AttachVM(mem.NewVM(phys))
	return cpu.NewCpu(bus)
}

// loadImage writes an executable's merged .text and .data bytes into the
// Cpu's address space at the addresses the linker placed them: .text at
// link.DefaultTextBase, .data immediately after, word-aligned. .bss needs
// no writes; the VM zero-fills a page the first time anything touches it.
func loadImage(c *cpu.Cpu, exe *objfile.Object) {
	textBase := bits.Word(link.DefaultTextBase)
	dataBase := alignUp32(textBase+bits.Word(len(exe.Text)), 4)

	writeBytes(c, textBase, exe.Text)
	writeBytes(c, dataBase, exe.Data)
}

func writeBytes(c *cpu.Cpu, base bits.Word, data []byte) {
	for i, b := range data {
		if err := c.Bus.WriteByte(base+bits.Word(i), b, true); err != nil {
			log.Fatalf("brun: loading image at 0x%08x: %v", base+bits.Word(i), err)
		}
	}
}

func alignUp32(v bits.Word, n bits.Word) bits.Word {
	if rem := v % n; rem != 0 {
		return v + (n - rem)
	}
	return v
}

func reportOutcome(c *cpu.Cpu) {
	if c.Exception == nil {
		fmt.Fprintln(os.Stderr, "brun: instruction budget exhausted without halting")
		os.Exit(1)
	}
	if c.Exception.Kind != cpu.HALT {
		fmt.Fprintf(os.Stderr, "brun: %s\n", c.Exception)
		os.Exit(1)
	}
	fmt.Printf("halted at pc=0x%08x\n", c.PC)
	fmt.Println(spew.Sdump(registerSnapshot(c)))
}

func registerSnapshot(c *cpu.Cpu) [cpu.NumRegisters]bits.Word {
	var regs [cpu.NumRegisters]bits.Word
	for r := 0; r < cpu.NumRegisters; r++ {
		regs[r] = c.ReadReg(r)
	}
	return regs
}
