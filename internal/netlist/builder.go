// Package netlist builds the node-indexed electrical table of a schematic
// cell. Subcircuit instances without a physical counterpart are flattened
// into the parent's numbering space; expanded instances are cached per
// (instance, vector index) so rebuilding after a flatten retry only costs
// the splice.
package netlist

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/lvsdual/internal/model"
	"github.com/robert-at-pretension-io/lvsdual/internal/params"
)

// ErrTooDeep is returned when flattening descends past the builder's depth
// limit, which only happens for a recursive schematic.
var ErrTooDeep = errors.New("schematic hierarchy too deep to flatten")

// DefaultMaxDepth bounds flattening when the caller does not set one.
const DefaultMaxDepth = 64

// fragment is one expanded schematic cell. Node ids are the cell's own;
// parameter expressions have been evaluated in the scope of the instance
// that produced it.
type fragment struct {
	cell     *model.SchCell
	devices  []*model.EDevice
	subckts  []pending
	children map[model.FlatKey]*fragment
}

// pending is a subcircuit instance whose flatten decision is deferred to
// splice time, together with the parameter scope it was declared in.
type pending struct {
	inst   *model.SchInstance
	vector int
	scope  map[string]float64
}

// Builder owns the fragment cache of one cell.
type Builder struct {
	params   *params.Context
	log      logrus.FieldLogger
	maxDepth int
	root     *fragment
	hits     int
	misses   int
}

// NewBuilder returns a builder evaluating parameters in pc.
func NewBuilder(pc *params.Context, log logrus.FieldLogger, maxDepth int) *Builder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Builder{params: pc, log: log, maxDepth: maxDepth}
}

// Stats returns fragment cache hits and misses since the builder was created.
func (b *Builder) Stats() (hits, misses int) {
	return b.hits, b.misses
}

// Build constructs the netlist of desc's schematic. Pins are recorded on the
// cell's own nodes; every comparable device and subcircuit contact is
// registered on the node it lands on.
func (b *Builder) Build(desc *model.Descriptor) (*model.Netlist, error) {
	if desc.Schematic == nil {
		return nil, fmt.Errorf("cell %s has no schematic", desc.Cell)
	}
	nodes, devs, subs, err := b.ListDevsAndSubs(desc)
	if err != nil {
		return nil, err
	}
	n := model.NewNetlist(desc.Schematic)
	n.Nodes = nodes
	for k, pin := range desc.Schematic.Pins {
		node := n.Node(pin.Node)
		if node == nil {
			return nil, fmt.Errorf("cell %s: pin %s on unknown node %d", desc.Cell, pin.Name, pin.Node)
		}
		node.Pins = append(node.Pins, k)
	}
	for _, d := range devs {
		n.AddDevice(d)
	}
	for _, s := range subs {
		n.AddSubckt(s)
	}
	return n, nil
}

// ListDevsAndSubs walks desc's schematic, expanding every instance that is
// to be flattened, and returns the node table together with the comparable
// devices and the subcircuit instances that stay hierarchical. Devices
// marked no-physical and wire capacitor placeholders are skipped.
func (b *Builder) ListDevsAndSubs(desc *model.Descriptor) ([]*model.ENode, []*model.EDevice, []*model.ESubckt, error) {
	sch := desc.Schematic
	if b.root == nil || b.root.cell != sch {
		if err := b.params.Push(sch.Params, nil); err != nil {
			return nil, nil, nil, fmt.Errorf("cell %s: %w", sch.Name, err)
		}
		root, err := b.expand(sch)
		b.params.Pop()
		if err != nil {
			return nil, nil, nil, err
		}
		b.root = root
	}

	w := &walk{
		desc:     desc,
		physical: physicalCounts(desc),
	}
	local := make([]int, sch.NodeCount())
	for i := range local {
		w.add(sch.NodeNames[i], sch.IsGlobal(i))
		local[i] = i
	}
	if err := b.splice(w, b.root, "", local, 0); err != nil {
		return nil, nil, nil, err
	}
	return w.nodes, w.devices, w.subckts, nil
}

// expand evaluates the instances of cell in the current parameter scope.
func (b *Builder) expand(cell *model.SchCell) (*fragment, error) {
	f := &fragment{cell: cell, children: make(map[model.FlatKey]*fragment)}
	var scope map[string]float64
	for _, inst := range cell.Instances {
		if inst.NoPhysical || inst.WireCap {
			continue
		}
		for v := 0; v < inst.Width(); v++ {
			if inst.IsSubckt() {
				if len(inst.Nodes[v]) != len(inst.Master.Pins) {
					return nil, fmt.Errorf("cell %s: instance %s connects %d nodes to %d pins of %s",
						cell.Name, inst.VectorName(v), len(inst.Nodes[v]), len(inst.Master.Pins), inst.Master.Name)
				}
				if scope == nil {
					scope = b.params.Snapshot()
				}
				f.subckts = append(f.subckts, pending{inst: inst, vector: v, scope: scope})
				continue
			}
			if inst.Device == nil {
				return nil, fmt.Errorf("cell %s: instance %s has neither device type nor master", cell.Name, inst.Name)
			}
			if len(inst.Nodes[v]) != len(inst.Device.Contacts) {
				return nil, fmt.Errorf("cell %s: device %s has %d nodes, type %s needs %d",
					cell.Name, inst.VectorName(v), len(inst.Nodes[v]), inst.Device.Name, len(inst.Device.Contacts))
			}
			values, failed := b.params.EvalAll(inst.Params)
			f.devices = append(f.devices, &model.EDevice{
				Name:   inst.VectorName(v),
				Inst:   inst,
				Vector: v,
				Type:   inst.Device,
				Nodes:  inst.Nodes[v],
				Params: values,
				Exprs:  failed,
			})
		}
	}
	return f, nil
}

// child returns the cached expansion of p's master, evaluating it on a miss.
func (b *Builder) child(parent *fragment, p pending) (*fragment, error) {
	key := model.FlatKey{Inst: p.inst, Vector: p.vector}
	if f, ok := parent.children[key]; ok {
		b.hits++
		return f, nil
	}
	b.misses++

	b.params.PushValues(p.scope)
	defer b.params.Pop()
	if err := b.params.Push(p.inst.Master.Params, p.inst.Params); err != nil {
		return nil, fmt.Errorf("instance %s: %w", p.inst.VectorName(p.vector), err)
	}
	defer b.params.Pop()

	f, err := b.expand(p.inst.Master)
	if err != nil {
		return nil, err
	}
	parent.children[key] = f
	return f, nil
}

// walk accumulates one build.
type walk struct {
	desc     *model.Descriptor
	physical map[*model.SchCell]int
	nodes    []*model.ENode
	devices  []*model.EDevice
	subckts  []*model.ESubckt
}

func (w *walk) add(name string, global bool) int {
	id := len(w.nodes)
	w.nodes = append(w.nodes, &model.ENode{ID: id, Name: name, Global: global})
	return id
}

func (w *walk) global(name string) int {
	for _, n := range w.nodes {
		if n.Global && n.Name == name {
			return n.ID
		}
	}
	return w.add(name, true)
}

// node maps node id of cell into the walk's numbering. Ground and globals
// are shared; internal nodes get a fresh id named under prefix.
func (w *walk) node(cell *model.SchCell, local []int, prefix string, id int) int {
	if local[id] >= 0 {
		return local[id]
	}
	var n int
	switch {
	case id == 0:
		n = 0
	case cell.IsGlobal(id):
		n = w.global(cell.NodeNames[id])
	default:
		name := cell.NodeNames[id]
		if name == "" {
			name = strconv.Itoa(id)
		}
		n = w.add(join(prefix, name), false)
	}
	local[id] = n
	return n
}

func (b *Builder) splice(w *walk, f *fragment, prefix string, local []int, depth int) error {
	if depth > b.maxDepth {
		return fmt.Errorf("%s: %w", prefix, ErrTooDeep)
	}
	for _, d := range f.devices {
		nodes := make([]int, len(d.Nodes))
		for i, id := range d.Nodes {
			nodes[i] = w.node(f.cell, local, prefix, id)
		}
		w.devices = append(w.devices, &model.EDevice{
			Name:   join(prefix, d.Name),
			Inst:   d.Inst,
			Vector: d.Vector,
			Type:   d.Type,
			Nodes:  nodes,
			Params: cloneValues(d.Params),
			Exprs:  d.Exprs,
		})
	}
	for _, p := range f.subckts {
		conns := p.inst.Nodes[p.vector]
		nodes := make([]int, len(conns))
		for i, id := range conns {
			nodes[i] = w.node(f.cell, local, prefix, id)
		}
		name := join(prefix, p.inst.VectorName(p.vector))
		if !b.shouldFlatten(w, p) {
			w.subckts = append(w.subckts, &model.ESubckt{
				Name:   name,
				Inst:   p.inst,
				Vector: p.vector,
				Master: p.inst.Master,
				Nodes:  nodes,
			})
			continue
		}

		c, err := b.child(f, p)
		if err != nil {
			return err
		}
		master := p.inst.Master
		inner := make([]int, master.NodeCount())
		for i := range inner {
			inner[i] = -1
		}
		for k, pin := range master.Pins {
			if inner[pin.Node] < 0 {
				inner[pin.Node] = nodes[k]
			}
		}
		b.log.WithFields(logrus.Fields{"cell": w.desc.Cell, "instance": name, "master": master.Name}).
			Debug("flattening schematic instance")
		if err := b.splice(w, c, name, inner, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// shouldFlatten flattens marked instances, instances the driver forced, and
// instances whose master has no physical counterpart in the cell.
func (b *Builder) shouldFlatten(w *walk, p pending) bool {
	if p.inst.Flatten || w.desc.ForceFlatten[model.FlatKey{Inst: p.inst, Vector: p.vector}] {
		return true
	}
	return w.physical[p.inst.Master] == 0
}

func physicalCounts(desc *model.Descriptor) map[*model.SchCell]int {
	counts := make(map[*model.SchCell]int)
	for _, s := range desc.ActiveSubckts() {
		if s.Master.Schematic != nil {
			counts[s.Master.Schematic]++
		}
	}
	return counts
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func cloneValues(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
