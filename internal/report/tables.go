package report

import (
	"sort"

	"github.com/robert-at-pretension-io/lvsdual/internal/dual"
	"github.com/robert-at-pretension-io/lvsdual/internal/model"
)

// Tables is the relational view of an association run.
// Each slice is a relation with flat rows.
type Tables struct {
	Cells     []CellRow     `json:"cells"`
	Residuals []ResidualRow `json:"residuals"`
	Duals     []DualRow     `json:"duals"`
}

// CellRow holds the object counts of one cell after association.
type CellRow struct {
	Cell     string `json:"cell"`
	Groups   int    `json:"groups"`
	Devices  int    `json:"devices"`
	Subckts  int    `json:"subckts"`
	Nodes    int    `json:"nodes"`
	EDevices int    `json:"edevices"`
	ESubckts int    `json:"esubckts"`

	UnresolvedGroups   int `json:"unresolved_groups"`
	UnresolvedDevices  int `json:"unresolved_devices"`
	UnresolvedSubckts  int `json:"unresolved_subckts"`
	UnresolvedNodes    int `json:"unresolved_nodes"`
	UnresolvedEDevices int `json:"unresolved_edevices"`
	UnresolvedESubckts int `json:"unresolved_esubckts"`

	Merged       int  `json:"merged"`
	Flattened    int  `json:"flattened"`
	Associated   bool `json:"associated"`
	Inconsistent bool `json:"inconsistent"`
}

// Residual kinds and sides.
const (
	KindGroup  = model.KindGroup
	KindNet    = model.KindNet
	KindDevice = model.KindDevice
	KindSubckt = model.KindSubckt

	SideLayout    = model.SideLayout
	SideSchematic = model.SideSchematic
)

// ResidualRow is one object left without a dual.
type ResidualRow struct {
	Cell string `json:"cell"`
	Kind string `json:"kind"`
	Side string `json:"side"`
	Name string `json:"name"`
}

// DualRow is one established physical/electrical pair.
type DualRow struct {
	Cell       string `json:"cell"`
	Kind       string `json:"kind"`
	Physical   string `json:"physical"`
	Electrical string `json:"electrical"`
}

func emptyTables() Tables {
	return Tables{
		Cells:     []CellRow{},
		Residuals: []ResidualRow{},
		Duals:     []DualRow{},
	}
}

// BuildTables collects rows for every cell below top, in hierarchy order.
func BuildTables(top *model.Descriptor) Tables {
	out := emptyTables()
	if top == nil {
		return out
	}
	for _, d := range cellsOf(top) {
		out.Cells = append(out.Cells, cellRow(d))
		out.Residuals = append(out.Residuals, residualRows(d)...)
		out.Duals = append(out.Duals, dualRows(d)...)
	}
	return out
}

// cellsOf lists the active hierarchy first, then masters reachable only
// through flattened instances.
func cellsOf(top *model.Descriptor) []*model.Descriptor {
	byName := map[string]*model.Descriptor{}
	var walk func(d *model.Descriptor)
	walk = func(d *model.Descriptor) {
		if _, ok := byName[d.Cell]; ok {
			return
		}
		byName[d.Cell] = d
		for _, s := range d.Subckts {
			walk(s.Master)
		}
	}
	walk(top)

	var out []*model.Descriptor
	seen := map[string]bool{}
	for _, name := range dual.HierarchyLevels(top).Cells() {
		seen[name] = true
		out = append(out, byName[name])
	}
	var rest []string
	for name := range byName {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, byName[name])
	}
	return out
}

func cellRow(d *model.Descriptor) CellRow {
	t := d.Unresolved()
	row := CellRow{
		Cell:               d.Cell,
		Devices:            len(d.Devices),
		Subckts:            len(d.ActiveSubckts()),
		UnresolvedGroups:   t.Groups,
		UnresolvedDevices:  t.Devices,
		UnresolvedSubckts:  t.Subckts,
		UnresolvedNodes:    t.Nodes,
		UnresolvedEDevices: t.EDevices,
		UnresolvedESubckts: t.ESubckts,
		Associated:         d.Associated,
		Inconsistent:       d.Inconsistent,
	}
	for _, g := range d.Groups {
		if g.Connected() {
			row.Groups++
		}
	}
	for _, s := range d.Subckts {
		if s.Flattened {
			row.Flattened++
		}
	}
	for _, on := range d.ForceFlatten {
		if on {
			row.Flattened++
		}
	}
	if n := d.Netlist; n != nil {
		for _, node := range n.Nodes {
			if node.Connected() {
				row.Nodes++
			}
		}
		for _, e := range n.Devices {
			if e.Merged {
				row.Merged++
			} else {
				row.EDevices++
			}
		}
		row.ESubckts = len(n.Subckts)
	}
	return row
}

func residualRows(d *model.Descriptor) []ResidualRow {
	var out []ResidualRow
	for _, r := range d.Residuals() {
		out = append(out, ResidualRow{Cell: d.Cell, Kind: r.Kind, Side: r.Side, Name: r.Name})
	}
	return out
}

func dualRows(d *model.Descriptor) []DualRow {
	var out []DualRow
	add := func(kind, phys, elec string) {
		out = append(out, DualRow{Cell: d.Cell, Kind: kind, Physical: phys, Electrical: elec})
	}
	for _, g := range d.Groups {
		if !g.Associated() {
			continue
		}
		if n := d.NodeOf(g); n != nil {
			add(KindGroup, g.Label(), n.Label())
		}
	}
	for _, dev := range d.Devices {
		if dev.Dual != nil {
			add(KindDevice, dev.Name, dev.Dual.Name)
		}
	}
	for _, s := range d.ActiveSubckts() {
		if s.Dual != nil {
			add(KindSubckt, s.Name, s.Dual.Name)
		}
	}
	return out
}
