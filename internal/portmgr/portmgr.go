// Package portmgr computes the deterministic port ranges assigned to each
// project slot and probes availability. Port arithmetic is pure and tested in
// isolation; the TCP probe is the only side-effecting piece.
package portmgr

import (
	"fmt"
	"net"
	"time"

	"ckcore/internal/ckerrors"
)

// BasePort is the first port of slot 1.
const BasePort = 56000

// PortsPerSlot is the width reserved per project slot.
const PortsPerSlot = 200

// DiscoveryOffset is the fixed offset, within a slot, of the project's
// discovery port. Resolved from the Rust contract test
// discovery_port_is_slot_base_plus_43: slot 1 discovery = 56043.
const DiscoveryOffset = 43

// MaxSlot bounds slot numbers to the dynamic/private TCP range (49152-65535
// is the IANA range; BasePort + MaxSlot*PortsPerSlot must stay under 65536).
const MaxSlot = (65536 - BasePort) / PortsPerSlot

// Range is the half-open port range [Start, End) owned by one project slot.
type Range struct {
	Slot  int
	Start int
	End   int // exclusive
}

// SlotBase returns the first port of the given 1-based slot.
func SlotBase(slot int) int {
	return BasePort + (slot-1)*PortsPerSlot
}

// SlotRange returns the [Start, End) range owned by a slot.
func SlotRange(slot int) (Range, error) {
	if slot < 1 || slot > MaxSlot {
		return Range{}, ckerrors.Newf(ckerrors.CodePortError, fmt.Sprint(slot), "slot out of bounds")
	}
	base := SlotBase(slot)
	return Range{Slot: slot, Start: base, End: base + PortsPerSlot}, nil
}

// DiscoveryPort returns the slot's discovery port: slot_base + 43.
func DiscoveryPort(slot int) (int, error) {
	r, err := SlotRange(slot)
	if err != nil {
		return 0, err
	}
	return r.Start + DiscoveryOffset, nil
}

// CalcPort returns the port at a given offset within a slot's range, erroring
// if the offset would overflow into the next slot.
func CalcPort(slot, offset int) (int, error) {
	r, err := SlotRange(slot)
	if err != nil {
		return 0, err
	}
	if offset < 0 || offset >= PortsPerSlot {
		return 0, ckerrors.Newf(ckerrors.CodePortError, fmt.Sprint(offset), "offset out of slot bounds")
	}
	return r.Start + offset, nil
}

// Overlaps reports whether two slots' ranges intersect. Adjacent slots never
// overlap since PortsPerSlot evenly tiles the address space from BasePort.
func Overlaps(a, b Range) bool {
	return a.Start < b.End && b.Start < a.End
}

// Available probes whether a TCP port can currently be bound on localhost.
func Available(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// FindFreeSlot scans slots starting at 1, returning the first whose discovery
// port is currently bindable; the other ports of the range are not probed.
// usedSlots lets the registry exclude slots that
// are allocated but whose listeners are not currently up (e.g. stopped units).
func FindFreeSlot(usedSlots map[int]bool) (int, error) {
	for slot := 1; slot <= MaxSlot; slot++ {
		if usedSlots[slot] {
			continue
		}
		r, err := SlotRange(slot)
		if err != nil {
			return 0, err
		}
		if Available(r.Start + DiscoveryOffset) {
			return slot, nil
		}
	}
	return 0, ckerrors.New(ckerrors.CodePortUnavailable, "no free port slot")
}

// WaitAvailable polls until port is bindable or the timeout elapses.
func WaitAvailable(port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if Available(port) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(20 * time.Millisecond)
	}
}
