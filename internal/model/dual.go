package model

// AssociateGroup binds g and n to each other.
func AssociateGroup(g *Group, n *ENode) {
	g.Node = n.ID
	n.Group = g
}

// UnassociateGroup breaks the g/n binding. n may be nil.
func UnassociateGroup(g *Group, n *ENode) {
	if n != nil && n.Group == g {
		n.Group = nil
	}
	g.Node = Unassociated
}

// LinkDevice sets both dual references.
func LinkDevice(d *Device, e *EDevice, swapped bool) {
	d.Dual = e
	d.Swapped = swapped
	e.Dual = d
}

// UnlinkDevice clears both dual references of d.
func UnlinkDevice(d *Device) {
	if d.Dual != nil && d.Dual.Dual == d {
		d.Dual.Dual = nil
	}
	d.Dual = nil
	d.Swapped = false
}

// LinkSubckt sets both dual references and the chosen permutation state.
func LinkSubckt(s *Subckt, e *ESubckt, state []int) {
	s.Dual = e
	s.State = state
	e.Dual = s
}

// UnlinkSubckt clears both dual references of s.
func UnlinkSubckt(s *Subckt) {
	if s.Dual != nil && s.Dual.Dual == s {
		s.Dual.Dual = nil
	}
	s.Dual = nil
	s.State = nil
}

// NodeOf returns the electrical node bound to g, or nil.
func (d *Descriptor) NodeOf(g *Group) *ENode {
	if d.Netlist == nil || !g.Associated() {
		return nil
	}
	return d.Netlist.Node(g.Node)
}

// ClearDuality resets every node and dual assignment of the cell. Fixed
// terminal placement and label-derived names are preserved; names inferred
// from the schematic are dropped.
func (d *Descriptor) ClearDuality() {
	for _, g := range d.Groups {
		g.Node = Unassociated
		if g.Origin == NameInferred {
			g.Name = ""
			g.Origin = NameNone
		}
	}
	for _, dev := range d.Devices {
		dev.Dual = nil
		dev.Swapped = false
	}
	for _, s := range d.Subckts {
		s.Dual = nil
		s.State = nil
	}
	if d.Netlist != nil {
		for _, n := range d.Netlist.Nodes {
			n.Group = nil
		}
		for _, e := range d.Netlist.Devices {
			e.Dual = nil
		}
		for _, e := range d.Netlist.Subckts {
			e.Dual = nil
		}
	}
	d.Associated = false
	d.Inconsistent = false
}

// Tally counts unresolved objects on both sides.
type Tally struct {
	Groups   int
	Devices  int
	Subckts  int
	Nodes    int
	EDevices int
	ESubckts int
}

// Total is the physical unresolved count the solver drives to zero.
func (t Tally) Total() int {
	return t.Groups + t.Devices + t.Subckts
}

// Objects is the device plus subcircuit unresolved count.
func (t Tally) Objects() int {
	return t.Devices + t.Subckts
}

// Unresolved tallies unassociated connected groups, undualed devices and
// instances, and their electrical counterparts.
func (d *Descriptor) Unresolved() Tally {
	var t Tally
	for _, g := range d.Groups {
		if g.Connected() && !g.WireOnly && !g.Associated() {
			t.Groups++
		}
	}
	for _, dev := range d.Devices {
		if dev.Dual == nil {
			t.Devices++
		}
	}
	for _, s := range d.Subckts {
		if !s.Flattened && s.Dual == nil {
			t.Subckts++
		}
	}
	if d.Netlist == nil {
		return t
	}
	for _, n := range d.Netlist.Nodes {
		if n.Connected() && !n.Associated() {
			t.Nodes++
		}
	}
	for _, e := range d.Netlist.Devices {
		if !e.Merged && e.Dual == nil {
			t.EDevices++
		}
	}
	for _, e := range d.Netlist.Subckts {
		if e.Dual == nil {
			t.ESubckts++
		}
	}
	return t
}

// Discrepancies is the number of residual objects on either side.
func (d *Descriptor) Discrepancies() int {
	t := d.Unresolved()
	return t.Groups + t.Devices + t.Subckts + t.Nodes + t.EDevices + t.ESubckts
}

// CheckDuals verifies that every dual reference is mirrored. It returns the
// first offending object name, or "".
func (d *Descriptor) CheckDuals() string {
	for _, g := range d.Groups {
		if !g.Associated() {
			continue
		}
		if n := d.NodeOf(g); n == nil || n.Group != g {
			return "group " + g.String()
		}
	}
	for _, dev := range d.Devices {
		if dev.Dual != nil && dev.Dual.Dual != dev {
			return "device " + dev.Name
		}
	}
	for _, s := range d.Subckts {
		if s.Dual != nil && s.Dual.Dual != s {
			return "subckt " + s.Name
		}
	}
	return ""
}
