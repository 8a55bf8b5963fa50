package cpu

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"

	"b32/bits"
)

// model is the bubbletea model backing Debugger: an inspector over a
// running Cpu, not a wire-protocol debugger.
type model struct {
	cpu    *Cpu
	offset bits.Word

	prevPC bits.Word
	steps  int
}

// Init seeds PC at offset; the program itself is expected to already be
// loaded into the Cpu's bus by the caller.
func (m model) Init() tea.Cmd {
	m.cpu.PC = m.offset
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "j":
			if !m.cpu.Halted() {
				m.prevPC = m.cpu.PC
				m.cpu.Step()
				m.steps++
			}
		case "r":
			if m.cpu.Halted() {
				m.cpu.ClearException()
			}
		}
	}
	return m, nil
}

// hexDumpPage renders the 16-byte-per-row page containing the Cpu's PC,
// highlighting the word currently pointed at.
func (m model) hexDumpPage() string {
	base := bits.PageAddr(bits.PageOf(m.cpu.PC), 0)
	var b strings.Builder
	for row := bits.Word(0); row < bits.PageSize; row += 16 {
		addr := base + row
		fmt.Fprintf(&b, "%08x | ", addr)
		for col := bits.Word(0); col < 16; col++ {
			byteAddr := addr + col
			v, err := m.cpu.Bus.ReadByte(byteAddr, true)
			if err != nil {
				b.WriteString(" ?? ")
				continue
			}
			if byteAddr >= m.cpu.PC && byteAddr < m.cpu.PC+4 {
				fmt.Fprintf(&b, "[%02x]", v)
			} else {
				fmt.Fprintf(&b, " %02x ", v)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (m model) registerFile() string {
	var b strings.Builder
	for r := 0; r < NumRegisters; r++ {
		fmt.Fprintf(&b, "r%-2d = 0x%08x\n", r, m.cpu.ReadReg(r))
	}
	return b.String()
}

func (m model) status() string {
	flags := "N Z C V\n"
	for _, set := range []bool{m.cpu.Flags.N, m.cpu.Flags.Z, m.cpu.Flags.C, m.cpu.Flags.V} {
		if set {
			flags += "1 "
		} else {
			flags += "0 "
		}
	}
	exc := "running"
	if m.cpu.Exception != nil {
		exc = m.cpu.Exception.Error()
	}
	return fmt.Sprintf(`
pc: 0x%08x (was 0x%08x)
steps: %d
status: %s

%s`, m.cpu.PC, m.prevPC, m.steps, exc, flags)
}

func (m model) View() string {
	word, err := m.cpu.Bus.ReadWord(m.cpu.PC, true)
	decoded := "<unreadable>"
	if err == nil {
		decoded = spew.Sdump(DecodeOpcode(word))
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, m.hexDumpPage(), m.registerFile(), m.status()),
		"",
		decoded,
	)
}

// Debugger starts an interactive single-stepping TUI over an already-loaded
// Cpu, with PC seeded to offset. Space/j single-steps, r clears a pending
// exception, q quits.
func Debugger(c *Cpu, offset bits.Word) error {
	_, err := tea.NewProgram(model{cpu: c, offset: offset}).Run()
	return err
}
