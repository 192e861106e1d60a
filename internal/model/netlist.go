package model

// EContact is one device or subcircuit terminal landing on an electrical node.
type EContact struct {
	Device *EDevice
	Subckt *ESubckt
	Index  int
}

// ENode is an electrical node of a cell's netlist.
type ENode struct {
	ID       int
	Name     string
	Pins     []int
	Contacts []EContact
	Global   bool
	Group    *Group
}

// Associated reports whether a physical group is bound to the node.
func (n *ENode) Associated() bool {
	return n.Group != nil
}

// Connected reports whether the node has anything the solver can compare.
func (n *ENode) Connected() bool {
	return len(n.Contacts) > 0 || len(n.Pins) > 0
}

// EDevice is a schematic device instance (one vector slot).
type EDevice struct {
	Name   string
	Inst   *SchInstance
	Vector int
	Type   *DeviceType
	Nodes  []int

	// Params holds values evaluated while the instance scope was known
	Params map[string]float64

	// Exprs holds parameter expressions that could not be evaluated up front
	Exprs map[string]string

	Dual *Device

	// Sections lists parallel instances merged into this one
	Sections []*EDevice
	Merged   bool
}

// ESubckt is a schematic subcircuit instance (one vector slot).
type ESubckt struct {
	Name   string
	Inst   *SchInstance
	Vector int
	Master *SchCell
	Nodes  []int
	Dual   *Subckt
}

// Netlist is the node-indexed table built for one schematic cell.
type Netlist struct {
	Cell    *SchCell
	Nodes   []*ENode
	Devices []*EDevice
	Subckts []*ESubckt
}

// NewNetlist returns an empty table for cell.
func NewNetlist(cell *SchCell) *Netlist {
	return &Netlist{Cell: cell}
}

// AddNode appends a node with the next free id.
func (n *Netlist) AddNode(name string, global bool) *ENode {
	node := &ENode{ID: len(n.Nodes), Name: name, Global: global}
	n.Nodes = append(n.Nodes, node)
	return node
}

// Node returns node id or nil.
func (n *Netlist) Node(id int) *ENode {
	if id < 0 || id >= len(n.Nodes) {
		return nil
	}
	return n.Nodes[id]
}

// GlobalNamed finds a global node by name.
func (n *Netlist) GlobalNamed(name string) *ENode {
	for _, node := range n.Nodes {
		if node.Global && node.Name == name {
			return node
		}
	}
	return nil
}

// AddDevice appends d and registers its contacts.
func (n *Netlist) AddDevice(d *EDevice) {
	n.Devices = append(n.Devices, d)
	for i, id := range d.Nodes {
		node := n.Nodes[id]
		node.Contacts = append(node.Contacts, EContact{Device: d, Index: i})
	}
}

// AddSubckt appends s and registers its contacts.
func (n *Netlist) AddSubckt(s *ESubckt) {
	n.Subckts = append(n.Subckts, s)
	for i, id := range s.Nodes {
		node := n.Nodes[id]
		node.Contacts = append(node.Contacts, EContact{Subckt: s, Index: i})
	}
}

// Absorb merges section into rep: section's contacts are withdrawn from the
// node table and it is recorded in rep.Sections.
func (n *Netlist) Absorb(rep, section *EDevice) {
	for i, id := range section.Nodes {
		node := n.Nodes[id]
		for j := range node.Contacts {
			c := node.Contacts[j]
			if c.Device == section && c.Index == i {
				node.Contacts = append(node.Contacts[:j], node.Contacts[j+1:]...)
				break
			}
		}
	}
	section.Merged = true
	if len(rep.Sections) == 0 {
		rep.Sections = append(rep.Sections, rep)
	}
	rep.Sections = append(rep.Sections, section)
}

// ActiveDevices returns devices not absorbed by a parallel merge.
func (n *Netlist) ActiveDevices() []*EDevice {
	out := make([]*EDevice, 0, len(n.Devices))
	for _, d := range n.Devices {
		if !d.Merged {
			out = append(out, d)
		}
	}
	return out
}

// SubcktsOf returns the instances of the named master.
func (n *Netlist) SubcktsOf(master string) []*ESubckt {
	var out []*ESubckt
	for _, s := range n.Subckts {
		if s.Master.Name == master {
			out = append(out, s)
		}
	}
	return out
}
