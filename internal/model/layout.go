package model

import "fmt"

// Unassociated marks a group, hint or vector slot with no electrical counterpart.
const Unassociated = -1

// NameOrigin records where a group's net name came from.
type NameOrigin int

const (
	NameNone NameOrigin = iota
	NameLabel
	NameTerminal
	NameInferred
)

func (o NameOrigin) String() string {
	switch o {
	case NameLabel:
		return "label"
	case NameTerminal:
		return "terminal"
	case NameInferred:
		return "inferred"
	}
	return "none"
}

// ParseNameOrigin is the inverse of String. Unknown values map to NameNone.
func ParseNameOrigin(s string) NameOrigin {
	switch s {
	case "label":
		return NameLabel
	case "terminal":
		return NameTerminal
	case "inferred":
		return NameInferred
	}
	return NameNone
}

// Measurement is a named geometric or electrical quantity extracted from the
// layout and checked against a schematic parameter.
type Measurement struct {
	// Name keys Device.Values
	Name string

	// Param is the schematic parameter holding the reference value
	Param string

	// Precision is the relative tolerance of a strong match
	Precision float64

	// Additive quantities are summed when parallel devices are merged
	Additive bool

	// Swap names the measurement that plays this role when the permutable
	// contact pair is reversed (drain area vs source area)
	Swap string
}

// DeviceType describes a primitive device: its contact template, the pair of
// contacts that may be exchanged, and the measurements used for tie-breaking.
type DeviceType struct {
	Name         string
	Contacts     []string
	Permutable   [2]int
	Measurements []Measurement
}

// NewDeviceType builds a device type. permutable may be empty or name exactly two contacts.
func NewDeviceType(name string, contacts []string, permutable []string, ms []Measurement) (*DeviceType, error) {
	t := &DeviceType{
		Name:         name,
		Contacts:     contacts,
		Permutable:   [2]int{-1, -1},
		Measurements: ms,
	}
	switch len(permutable) {
	case 0:
	case 2:
		a, b := t.ContactIndex(permutable[0]), t.ContactIndex(permutable[1])
		if a < 0 || b < 0 || a == b {
			return nil, fmt.Errorf("device type %s: bad permutable pair %v", name, permutable)
		}
		if a > b {
			a, b = b, a
		}
		t.Permutable = [2]int{a, b}
	default:
		return nil, fmt.Errorf("device type %s: permutable pair needs two contacts, got %d", name, len(permutable))
	}
	return t, nil
}

// ContactIndex returns the index of the named contact, or -1.
func (t *DeviceType) ContactIndex(name string) int {
	for i, c := range t.Contacts {
		if c == name {
			return i
		}
	}
	return -1
}

func (t *DeviceType) HasPermutable() bool {
	return t.Permutable[0] >= 0
}

// Partner returns the other contact of the permutable pair, or i itself.
func (t *DeviceType) Partner(i int) int {
	switch {
	case !t.HasPermutable():
		return i
	case i == t.Permutable[0]:
		return t.Permutable[1]
	case i == t.Permutable[1]:
		return t.Permutable[0]
	}
	return i
}

// ContactClass folds both contacts of the permutable pair onto the lower index.
func (t *DeviceType) ContactClass(i int) int {
	if p := t.Partner(i); p < i {
		return p
	}
	return i
}

// InPair reports whether contact i belongs to the permutable pair.
func (t *DeviceType) InPair(i int) bool {
	return t.HasPermutable() && (i == t.Permutable[0] || i == t.Permutable[1])
}

// Reversible reports whether the type can match with its contacts reversed:
// it declares a permutable pair or has exactly two contacts.
func (t *DeviceType) Reversible() bool {
	return t.HasPermutable() || len(t.Contacts) == 2
}

// Reversed returns the contact that plays i's role when the device is
// matched backwards.
func (t *DeviceType) Reversed(i int) int {
	switch {
	case t.HasPermutable():
		return t.Partner(i)
	case len(t.Contacts) == 2:
		return 1 - i
	}
	return i
}

// Terminal is a formal terminal (cell pin) bound to a group.
type Terminal struct {
	Name  string
	Group *Group

	// Fixed terminals were placed by the user and survive ClearDuality
	Fixed bool
}

// Contact is one device or subcircuit contact landing on a group.
type Contact struct {
	Device *Device
	Subckt *Subckt
	Index  int
}

// Group is a physical connectivity class. Group 0 is ground.
type Group struct {
	ID        int
	Node      int
	Name      string
	Origin    NameOrigin
	Terminals []*Terminal
	Contacts  []Contact

	Global   bool
	WireOnly bool
	CellConn bool

	// HintNode biases the comparator during permutation fix-up only
	HintNode int
}

// NewGroup returns an unassociated group.
func NewGroup(id int) *Group {
	return &Group{ID: id, Node: Unassociated, HintNode: Unassociated}
}

func (g *Group) String() string {
	if g.Name != "" {
		return fmt.Sprintf("%d(%s)", g.ID, g.Name)
	}
	return fmt.Sprintf("%d", g.ID)
}

// Associated reports whether the group carries a node.
func (g *Group) Associated() bool {
	return g.Node != Unassociated
}

// Connected reports whether the group has anything the solver can compare.
func (g *Group) Connected() bool {
	return len(g.Contacts) > 0 || len(g.Terminals) > 0
}

// AddTerminal binds a formal terminal to the group.
func (g *Group) AddTerminal(name string, fixed bool) *Terminal {
	t := &Terminal{Name: name, Group: g, Fixed: fixed}
	g.Terminals = append(g.Terminals, t)
	return t
}

func (g *Group) removeContact(c Contact) {
	for i := range g.Contacts {
		if g.Contacts[i] == c {
			g.Contacts = append(g.Contacts[:i], g.Contacts[i+1:]...)
			return
		}
	}
}

// Device is an extracted physical device instance.
type Device struct {
	Name     string
	Type     *DeviceType
	Contacts []*Group
	Values   map[string]float64
	Dual     *EDevice

	// Swapped is set when the permutable pair matched reversed
	Swapped bool
}

// NewDevice creates a device and registers its contacts on the groups.
func NewDevice(name string, typ *DeviceType, contacts []*Group, values map[string]float64) *Device {
	d := &Device{Name: name, Type: typ, Contacts: contacts, Values: values}
	if d.Values == nil {
		d.Values = make(map[string]float64)
	}
	for i, g := range contacts {
		g.Contacts = append(g.Contacts, Contact{Device: d, Index: i})
	}
	return d
}

// DualIndex maps electrical contact i to the physical contact it was matched
// with.
func (d *Device) DualIndex(i int) int {
	if !d.Swapped {
		return i
	}
	return d.Type.Reversed(i)
}

// Contact returns the group on contact i honoring the chosen orientation.
func (d *Device) Contact(i int) *Group {
	return d.Contacts[d.DualIndex(i)]
}

// Permuter enumerates contact permutation states of a subcircuit instance.
// State(i)[k] is the contact whose formal role contact k plays in state i.
type Permuter interface {
	Len() int
	State(i int) []int
}

// SubcktContact joins a parent group to the master's group it connects to.
type SubcktContact struct {
	Parent *Group
	Sub    *Group
}

// Subckt is a physical subcircuit instance.
type Subckt struct {
	Name     string
	Master   *Descriptor
	Contacts []SubcktContact
	Perm     Permuter
	State    []int
	Dual     *ESubckt

	// Flattened instances have been absorbed into their parent
	Flattened bool
}

// NewSubckt creates an instance, registers its contacts on the parent groups
// and records the instantiation site on the master.
func NewSubckt(name string, parent, master *Descriptor, contacts []SubcktContact) *Subckt {
	s := &Subckt{Name: name, Master: master, Contacts: contacts}
	for i, c := range contacts {
		c.Parent.Contacts = append(c.Parent.Contacts, Contact{Subckt: s, Index: i})
	}
	master.Sites = append(master.Sites, Site{Parent: parent, Inst: s})
	return s
}

// Pin returns the master schematic pin reached through contact k, or -1.
// Once the master group is associated its node decides; before that the
// group's terminal names do.
func (s *Subckt) Pin(k int) int {
	sch := s.Master.Schematic
	if sch == nil {
		return -1
	}
	sub := s.Contacts[k].Sub
	if sub.Associated() {
		for p, pin := range sch.Pins {
			if pin.Node == sub.Node {
				return p
			}
		}
	}
	for _, t := range sub.Terminals {
		if p := sch.PinIndex(t.Name); p >= 0 {
			return p
		}
	}
	return -1
}

// EffectivePin is Pin after applying the chosen permutation state.
func (s *Subckt) EffectivePin(k int) int {
	if s.State != nil {
		k = s.State[k]
	}
	return s.Pin(k)
}

// Site is one place a cell is instantiated.
type Site struct {
	Parent *Descriptor
	Inst   *Subckt
}

// Descriptor owns one cell's physical records and its electrical netlist.
type Descriptor struct {
	Cell      string
	Schematic *SchCell
	Groups    []*Group
	Devices   []*Device
	Subckts   []*Subckt
	Netlist   *Netlist
	Sites     []Site

	// PermGroups lists master pin indexes detected as interchangeable
	PermGroups [][]int

	// ForceFlatten names schematic instances to flatten on the next build
	ForceFlatten map[FlatKey]bool

	Associated   bool
	Extracted    bool
	Inconsistent bool
}

// FlatKey identifies one vector slot of a schematic instance.
type FlatKey struct {
	Inst   *SchInstance
	Vector int
}

// NewDescriptor returns a descriptor with groups 0..n-1.
func NewDescriptor(cell string, sch *SchCell, n int) *Descriptor {
	d := &Descriptor{Cell: cell, Schematic: sch, ForceFlatten: make(map[FlatKey]bool)}
	for i := 0; i < n; i++ {
		d.Groups = append(d.Groups, NewGroup(i))
	}
	return d
}

// AddGroup appends a fresh group.
func (d *Descriptor) AddGroup() *Group {
	g := NewGroup(len(d.Groups))
	d.Groups = append(d.Groups, g)
	return g
}

// Group returns group id or nil.
func (d *Descriptor) Group(id int) *Group {
	if id < 0 || id >= len(d.Groups) {
		return nil
	}
	return d.Groups[id]
}

// GroupNamed finds a group by net name.
func (d *Descriptor) GroupNamed(name string) *Group {
	for _, g := range d.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// ActiveSubckts returns instances that have not been flattened.
func (d *Descriptor) ActiveSubckts() []*Subckt {
	out := make([]*Subckt, 0, len(d.Subckts))
	for _, s := range d.Subckts {
		if !s.Flattened {
			out = append(out, s)
		}
	}
	return out
}

// CountSubckts counts active physical instances of the named master.
func (d *Descriptor) CountSubckts(master string) int {
	n := 0
	for _, s := range d.Subckts {
		if !s.Flattened && s.Master.Cell == master {
			n++
		}
	}
	return n
}

// Masters returns the distinct masters instantiated in the cell, in first-use order.
func (d *Descriptor) Masters() []*Descriptor {
	seen := make(map[*Descriptor]bool)
	var out []*Descriptor
	for _, s := range d.Subckts {
		if s.Flattened || seen[s.Master] {
			continue
		}
		seen[s.Master] = true
		out = append(out, s.Master)
	}
	return out
}

func (d *Descriptor) String() string {
	return d.Cell
}
