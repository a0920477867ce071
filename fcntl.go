package bypass

import "golang.org/x/sys/unix"

// ArgKind tags which member of FcntlArg carries fcntl's third argument.
type ArgKind uint8

const (
	ArgNone ArgKind = iota
	ArgInt
	ArgFlock
	ArgOwner
	ArgHint
)

// Owner types of FOwnerEx.
const (
	FOwnerTid  = 0
	FOwnerPid  = 1
	FOwnerPgrp = 2
)

// FOwnerEx is struct f_owner_ex, the argument of F_GETOWN_EX and F_SETOWN_EX.
type FOwnerEx struct {
	Type int32
	Pid  int32
}

func (k ArgKind) String() string {
	switch k {
	case ArgNone:
		return "none"
	case ArgInt:
		return "int"
	case ArgFlock:
		return "flock"
	case ArgOwner:
		return "owner"
	case ArgHint:
		return "hint"
	default:
		return "unknown"
	}
}

// FcntlArg is the variadic third argument of fcntl, typed by command.
type FcntlArg struct {
	Kind  ArgKind
	Int   int
	Flock *unix.Flock_t
	Owner *FOwnerEx
	Hint  *uint64 // read-write hint, one of the RWH_WRITE_LIFE values
}

// NoArg is the argument of commands that take none.
var NoArg = FcntlArg{}

// IntArg wraps an integer argument.
func IntArg(v int) FcntlArg {
	return FcntlArg{Kind: ArgInt, Int: v}
}

// FlockArg wraps a record lock argument.
func FlockArg(lk *unix.Flock_t) FcntlArg {
	return FcntlArg{Kind: ArgFlock, Flock: lk}
}

// OwnerArg wraps an f_owner_ex argument.
func OwnerArg(o *FOwnerEx) FcntlArg {
	return FcntlArg{Kind: ArgOwner, Owner: o}
}

// HintArg wraps a read-write hint argument.
func HintArg(h *uint64) FcntlArg {
	return FcntlArg{Kind: ArgHint, Hint: h}
}

// ArgKindFor reports the argument type a command reads.
func ArgKindFor(cmd int) ArgKind {
	switch cmd {
	case unix.F_GETLK, unix.F_SETLK, unix.F_SETLKW,
		unix.F_OFD_GETLK, unix.F_OFD_SETLK, unix.F_OFD_SETLKW:
		return ArgFlock
	case unix.F_GETOWN_EX, unix.F_SETOWN_EX:
		return ArgOwner
	case unix.F_GET_RW_HINT, unix.F_SET_RW_HINT,
		unix.F_GET_FILE_RW_HINT, unix.F_SET_FILE_RW_HINT:
		return ArgHint
	case unix.F_DUPFD, unix.F_DUPFD_CLOEXEC, unix.F_SETFD, unix.F_SETFL,
		unix.F_SETOWN, unix.F_SETSIG, unix.F_SETLEASE, unix.F_NOTIFY,
		unix.F_SETPIPE_SZ, unix.F_ADD_SEALS:
		return ArgInt
	default:
		return ArgNone
	}
}

// NewFcntlArg reads v the way fcntl would read its variadic argument for cmd.
// Commands without an argument ignore v.
func NewFcntlArg(cmd int, v any) (FcntlArg, error) {
	switch ArgKindFor(cmd) {
	case ArgInt:
		switch x := v.(type) {
		case int:
			return IntArg(x), nil
		case int32:
			return IntArg(int(x)), nil
		case uint32:
			return IntArg(int(x)), nil
		case uintptr:
			return IntArg(int(x)), nil
		}
		return NoArg, unix.EINVAL
	case ArgFlock:
		if lk, ok := v.(*unix.Flock_t); ok && lk != nil {
			return FlockArg(lk), nil
		}
		return NoArg, unix.EFAULT
	case ArgOwner:
		if o, ok := v.(*FOwnerEx); ok && o != nil {
			return OwnerArg(o), nil
		}
		return NoArg, unix.EFAULT
	case ArgHint:
		if h, ok := v.(*uint64); ok && h != nil {
			return HintArg(h), nil
		}
		return NoArg, unix.EFAULT
	default:
		return NoArg, nil
	}
}

func (a FcntlArg) check(cmd int) error {
	want := ArgKindFor(cmd)
	if want == ArgNone {
		return nil
	}
	if a.Kind != want {
		return unix.EINVAL
	}
	switch {
	case want == ArgFlock && a.Flock == nil,
		want == ArgOwner && a.Owner == nil,
		want == ArgHint && a.Hint == nil:
		return unix.EFAULT
	}
	return nil
}

func isDupCmd(cmd int) bool {
	return cmd == unix.F_DUPFD || cmd == unix.F_DUPFD_CLOEXEC
}
