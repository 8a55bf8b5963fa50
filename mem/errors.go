package mem

import "fmt"

// Kind identifies the class of a memory-subsystem error, so callers can
// branch with errors.Is against the exported sentinels below rather than
// parsing messages.
type Kind int

const (
	// OutOfBounds is returned when an address's page lies outside a
	// memory cell's declared [lo,hi] page range.
	OutOfBounds Kind = iota
	// WriteProtected is returned on a runtime write to a ROM cell.
	WriteProtected
	// InvalidAddress is returned by the bus when no attached cell
	// claims an address.
	InvalidAddress
	// ConflictAddresses is returned by the bus when more than one
	// attached cell claims the same address (a configuration bug).
	ConflictAddresses
	// VMFault covers page-fault handling failures: fault-during-fault,
	// or a disk-backed swap read/write failure.
	VMFault
)

func (k Kind) String() string {
	switch k {
	case OutOfBounds:
		return "OUT_OF_BOUNDS"
	case WriteProtected:
		return "WRITE_PROTECTED"
	case InvalidAddress:
		return "INVALID_ADDRESS"
	case ConflictAddresses:
		return "CONFLICT_ADDRESSES"
	case VMFault:
		return "VM_FAULT"
	default:
		return "UNKNOWN"
	}
}

// Error is the single fallible-result error type shared by RAM/ROM, the
// bus, and the virtual memory unit, carrying a Kind plus the address that
// triggered it.
type Error struct {
	Kind    Kind
	Addr    uint32
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s at 0x%08x: %s", e.Kind, e.Addr, e.Message)
	}
	return fmt.Sprintf("%s at 0x%08x", e.Kind, e.Addr)
}

// Is supports errors.Is(err, mem.Sentinel(k)): it matches a target made by
// Sentinel that carries the same Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(*sentinelKind)
	if !ok {
		return false
	}
	return e.Kind == k.kind
}

// sentinelKind lets a Kind value itself be used with errors.Is.
type sentinelKind struct{ kind Kind }

func (s *sentinelKind) Error() string { return s.kind.String() }

// Sentinel returns an error value usable with errors.Is to test whether an
// *Error carries the given Kind, e.g. errors.Is(err, mem.Sentinel(mem.OutOfBounds)).
func Sentinel(k Kind) error { return &sentinelKind{kind: k} }

func newErr(k Kind, addr uint32, msg string) *Error {
	return &Error{Kind: k, Addr: addr, Message: msg}
}
