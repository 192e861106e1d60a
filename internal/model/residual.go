package model

import "strconv"

// Residual kinds and sides.
const (
	KindGroup  = "group"
	KindNet    = "net"
	KindDevice = "device"
	KindSubckt = "subckt"

	SideLayout    = "layout"
	SideSchematic = "schematic"
)

// Residual is one object left without a dual.
type Residual struct {
	Kind string
	Side string
	Name string
}

// Label is the group's name, or "#id" when it has none.
func (g *Group) Label() string {
	if g.Name != "" {
		return g.Name
	}
	return "#" + strconv.Itoa(g.ID)
}

// Label is the node's name, or "#id" when it has none.
func (n *ENode) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return "#" + strconv.Itoa(n.ID)
}

// Residuals lists the objects Unresolved counts, layout side first, in
// record order.
func (d *Descriptor) Residuals() []Residual {
	var out []Residual
	add := func(kind, side, name string) {
		out = append(out, Residual{Kind: kind, Side: side, Name: name})
	}
	for _, g := range d.Groups {
		if g.Connected() && !g.WireOnly && !g.Associated() {
			add(KindGroup, SideLayout, g.Label())
		}
	}
	for _, dev := range d.Devices {
		if dev.Dual == nil {
			add(KindDevice, SideLayout, dev.Name)
		}
	}
	for _, s := range d.ActiveSubckts() {
		if s.Dual == nil {
			add(KindSubckt, SideLayout, s.Name)
		}
	}
	n := d.Netlist
	if n == nil {
		return out
	}
	for _, node := range n.Nodes {
		if node.Connected() && !node.Associated() {
			add(KindNet, SideSchematic, node.Label())
		}
	}
	for _, e := range n.ActiveDevices() {
		if e.Dual == nil {
			add(KindDevice, SideSchematic, e.Name)
		}
	}
	for _, e := range n.Subckts {
		if e.Dual == nil {
			add(KindSubckt, SideSchematic, e.Name)
		}
	}
	return out
}
