package dual

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/robert-at-pretension-io/lvsdual/internal/model"
	"github.com/robert-at-pretension-io/lvsdual/internal/params"
)

// Score scale. A group/node pair whose connections agree completely scores
// PerfectScore; an exact name match short-circuits to NameMatchScore.
const (
	Scale          = 1000
	PerfectScore   = 2 * Scale
	NameMatchScore = 4 * Scale
	LabelBonus     = 10
	HintBonus      = 100

	// Reject marks a pair that contradicts an existing association.
	Reject = -1
)

// Parameter comparison outcomes.
const (
	ParamStrong       = Scale
	ParamWeak         = Scale / 2
	ParamMismatch     = -Scale
	ParamInconclusive = 0
)

// weakFactor widens a measurement's precision for a weak match.
const weakFactor = 10

// DefaultHierDepth bounds how many parent levels the hierarchical term of
// GroupScore inspects.
const DefaultHierDepth = 2

// Match is the result of comparing a physical object with an electrical one.
type Match struct {
	Score int
	Param int

	// Swapped is set when a device matched with its contacts reversed
	Swapped bool

	// State is the winning permutation state of a subcircuit instance
	State []int

	// Unsure marks contacts whose counterpart differs between equally good
	// alternatives. Indexed by electrical contact for devices and by
	// physical contact for instances.
	Unsure []bool
}

func (m Match) better(o Match) bool {
	return m.Score > o.Score || (m.Score == o.Score && m.Param > o.Param)
}

// sure reports that no contact's counterpart is in doubt.
func (m Match) sure() bool {
	for _, u := range m.Unsure {
		if u {
			return false
		}
	}
	return true
}

func (m Match) ties(o Match) bool {
	return m.Score == o.Score && m.Param == o.Param
}

// Comparator scores candidate pairs for the solver.
type Comparator struct {
	// Params evaluates parameter expressions left unevaluated by the builder
	Params *params.Context

	// Hints enables the HintNode bonus; only the permutation fix sets it
	Hints bool

	// HierDepth bounds the hierarchical consistency recursion
	HierDepth int

	perm map[*model.SchCell][][]int
}

// NewComparator returns a comparator evaluating parameters in pc.
func NewComparator(pc *params.Context) *Comparator {
	if pc == nil {
		pc = params.New()
	}
	return &Comparator{Params: pc, HierDepth: DefaultHierDepth, perm: make(map[*model.SchCell][][]int)}
}

// SetPermGroups registers the interchangeable pin groups of a schematic cell.
// Contacts on pins of one group are indistinguishable to GroupScore.
func (c *Comparator) SetPermGroups(sch *model.SchCell, groups [][]int) {
	if sch != nil {
		c.perm[sch] = groups
	}
}

func (c *Comparator) pinClass(sch *model.SchCell, p int) int {
	for _, g := range c.perm[sch] {
		for _, q := range g {
			if q == p {
				return g[0]
			}
		}
	}
	return p
}

// contactKey identifies what a connection of a group or node is, in terms
// both sides can compare: a dualed object and its contact, or an undualed
// object's type and contact class, or a formal pin name.
type contactKey struct {
	kind   byte
	edev   *model.EDevice
	esub   *model.ESubckt
	typ    *model.DeviceType
	master *model.SchCell
	index  int
	name   string
}

const (
	keyDual     = 'D'
	keyType     = 'T'
	keyInstance = 'S'
	keyMaster   = 'M'
	keyPin      = 'P'
	keyNone     = 'X'
)

// contactClass folds contacts that a reversed match exchanges.
func contactClass(t *model.DeviceType, i int) int {
	if r := t.Reversed(i); r < i {
		return r
	}
	return i
}

// masterSch returns the schematic a physical instance's master describes.
func masterSch(s *model.Subckt) *model.SchCell {
	if s.Master == nil {
		return nil
	}
	return s.Master.Schematic
}

// GroupScore rates how well group g of d corresponds to node n of d's
// netlist. It returns Reject when an existing dual places one of g's
// connections on another node.
func (c *Comparator) GroupScore(d *model.Descriptor, g *model.Group, n *model.ENode) int {
	return c.groupScore(d, g, n, 0)
}

func (c *Comparator) groupScore(d *model.Descriptor, g *model.Group, n *model.ENode, depth int) int {
	if n == nil {
		return Reject
	}
	if g.Name != "" && n.Name != "" && strings.EqualFold(g.Name, n.Name) {
		return NameMatchScore
	}

	pk, labelled, ok := c.physicalKeys(g, n)
	if !ok {
		return Reject
	}
	ek, ok := c.electricalKeys(d, g, n)
	if !ok {
		return Reject
	}
	pk, labelled = dropNone(pk, labelled)

	score := PerfectScore
	if len(pk) > 0 || len(ek) > 0 {
		count := make(map[contactKey]int, len(ek))
		for _, k := range ek {
			count[k]++
		}
		matched, bonus := 0, 0
		for i, k := range pk {
			if count[k] == 0 {
				continue
			}
			count[k]--
			matched++
			if labelled[i] {
				bonus += LabelBonus
			}
		}
		union := len(pk) + len(ek) - matched
		score = 2*Scale*matched/union + bonus
	}
	if c.Hints && g.HintNode != model.Unassociated && g.HintNode == n.ID {
		score += HintBonus
	}
	score += c.hierarchy(d, g, n, depth)
	if score < 0 {
		score = 0
	}
	return score
}

// dropNone removes the contacts that map to no pin of the far side. They
// take no part in the overlap.
func dropNone(keys []contactKey, labelled []bool) ([]contactKey, []bool) {
	n := 0
	for i, k := range keys {
		if k.kind == keyNone {
			continue
		}
		keys[n], labelled[n] = k, labelled[i]
		n++
	}
	return keys[:n], labelled[:n]
}

func (c *Comparator) physicalKeys(g *model.Group, n *model.ENode) ([]contactKey, []bool, bool) {
	keys := make([]contactKey, 0, len(g.Contacts)+len(g.Terminals))
	labelled := make([]bool, 0, cap(keys))
	for _, ct := range g.Contacts {
		switch {
		case ct.Device != nil:
			dev := ct.Device
			if dev.Dual != nil {
				j := dev.DualIndex(ct.Index)
				if dev.Dual.Nodes[j] != n.ID {
					return nil, nil, false
				}
				keys = append(keys, contactKey{kind: keyDual, edev: dev.Dual, index: j})
			} else {
				keys = append(keys, contactKey{kind: keyType, typ: dev.Type, index: contactClass(dev.Type, ct.Index)})
			}
			labelled = append(labelled, false)
		case ct.Subckt != nil:
			s := ct.Subckt
			if s.Flattened {
				continue
			}
			sub := s.Contacts[ct.Index].Sub
			var key contactKey
			if s.Dual != nil {
				p := s.EffectivePin(ct.Index)
				switch {
				case p < 0 || p >= len(s.Dual.Nodes):
					key = contactKey{kind: keyNone}
				case s.Dual.Nodes[p] != n.ID:
					return nil, nil, false
				default:
					key = contactKey{kind: keyInstance, esub: s.Dual, index: p}
				}
			} else if sch := masterSch(s); sch != nil {
				p := s.Pin(ct.Index)
				if p < 0 {
					key = contactKey{kind: keyNone}
				} else {
					key = contactKey{kind: keyMaster, master: sch, index: c.pinClass(sch, p)}
				}
			} else {
				key = contactKey{kind: keyNone}
			}
			keys = append(keys, key)
			labelled = append(labelled, sub.Origin == model.NameLabel)
		}
	}
	for _, t := range g.Terminals {
		keys = append(keys, contactKey{kind: keyPin, name: t.Name})
		labelled = append(labelled, false)
	}
	return keys, labelled, true
}

func (c *Comparator) electricalKeys(d *model.Descriptor, g *model.Group, n *model.ENode) ([]contactKey, bool) {
	keys := make([]contactKey, 0, len(n.Contacts)+len(n.Pins))
	for _, ct := range n.Contacts {
		switch {
		case ct.Device != nil:
			e := ct.Device
			if e.Dual != nil {
				if e.Dual.Contact(ct.Index) != g {
					return nil, false
				}
				keys = append(keys, contactKey{kind: keyDual, edev: e, index: ct.Index})
			} else {
				keys = append(keys, contactKey{kind: keyType, typ: e.Type, index: contactClass(e.Type, ct.Index)})
			}
		case ct.Subckt != nil:
			e := ct.Subckt
			if e.Dual != nil {
				s := e.Dual
				found, here := false, false
				for k, sc := range s.Contacts {
					if s.EffectivePin(k) == ct.Index {
						found = true
						here = here || sc.Parent == g
					}
				}
				if found && !here {
					return nil, false
				}
				keys = append(keys, contactKey{kind: keyInstance, esub: e, index: ct.Index})
			} else {
				keys = append(keys, contactKey{kind: keyMaster, master: e.Master, index: c.pinClass(e.Master, ct.Index)})
			}
		}
	}
	if d.Netlist != nil && d.Netlist.Cell != nil {
		for _, p := range n.Pins {
			keys = append(keys, contactKey{kind: keyPin, name: d.Netlist.Cell.Pins[p].Name})
		}
	}
	return keys, true
}

// hierarchy votes on g/n at every dualed instantiation site of d: a site
// agrees when the parent group on g's contact is (or scores well against)
// the parent node on the pin n carries. The average vote is scaled to
// ±Scale/4.
func (c *Comparator) hierarchy(d *model.Descriptor, g *model.Group, n *model.ENode, depth int) int {
	if depth >= c.HierDepth {
		return 0
	}
	sum, count := 0, 0
	for _, site := range d.Sites {
		s := site.Inst
		if s.Flattened || s.Dual == nil || site.Parent.Netlist == nil {
			continue
		}
		for k, sc := range s.Contacts {
			if sc.Sub != g {
				continue
			}
			p := s.EffectivePin(k)
			if p < 0 || p >= len(s.Dual.Nodes) {
				continue
			}
			count++
			if !hasPin(n, p) {
				sum--
				continue
			}
			pn := site.Parent.Netlist.Node(s.Dual.Nodes[p])
			if sc.Parent.Associated() {
				if pn != nil && sc.Parent.Node == pn.ID {
					sum++
				} else {
					sum--
				}
				continue
			}
			switch ps := c.groupScore(site.Parent, sc.Parent, pn, depth+1); {
			case ps == Reject:
				sum--
			case ps >= Scale:
				sum++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return sum * (Scale / 4) / count
}

func hasPin(n *model.ENode, p int) bool {
	for _, q := range n.Pins {
		if q == p {
			return true
		}
	}
	return false
}

// DeviceScore compares physical device dev with electrical device e in both
// orientations when the type allows it. Ties in topology are broken by
// DeviceParamScore.
func (c *Comparator) DeviceScore(d *model.Descriptor, dev *model.Device, e *model.EDevice) (Match, error) {
	if dev.Type != e.Type || len(dev.Contacts) != len(e.Nodes) {
		return Match{Score: Reject}, nil
	}
	if backwards(dev.Contacts, e.Nodes) {
		param, err := c.DeviceParamScore(dev, e, true)
		if err != nil {
			return Match{}, err
		}
		return Match{Score: PerfectScore, Param: param, Swapped: true}, nil
	}

	orients := []bool{false}
	if dev.Type.Reversible() {
		orients = append(orients, true)
	}
	best := Match{Score: Reject}
	tied := false
	for _, swapped := range orients {
		score := c.orientScore(d, dev, e, swapped)
		if score == Reject {
			continue
		}
		param, err := c.DeviceParamScore(dev, e, swapped)
		if err != nil {
			return Match{}, err
		}
		m := Match{Score: score, Param: param, Swapped: swapped}
		switch {
		case m.better(best):
			best, tied = m, false
		case m.ties(best):
			tied = true
		}
	}
	if tied {
		best.Unsure = make([]bool, len(e.Nodes))
		for i := range best.Unsure {
			best.Unsure[i] = dev.Type.Reversed(i) != i
		}
	}
	return best, nil
}

// backwards reports a two-contact object whose associated contacts land on
// each other's expected nodes.
func backwards(groups []*model.Group, nodes []int) bool {
	if len(groups) != 2 || len(nodes) != 2 {
		return false
	}
	a, b := groups[0], groups[1]
	return a.Associated() && b.Associated() && a.Node != b.Node &&
		a.Node == nodes[1] && b.Node == nodes[0]
}

func (c *Comparator) orientScore(d *model.Descriptor, dev *model.Device, e *model.EDevice, swapped bool) int {
	total := 0
	for i, id := range e.Nodes {
		pi := i
		if swapped {
			pi = dev.Type.Reversed(i)
		}
		s := c.contactScore(d, dev.Contacts[pi], id)
		if s == Reject {
			return Reject
		}
		total += s
	}
	return total / len(e.Nodes)
}

// contactScore rates physical group g against node id for one contact.
func (c *Comparator) contactScore(d *model.Descriptor, g *model.Group, id int) int {
	if g.Associated() {
		if g.Node != id {
			return Reject
		}
		return PerfectScore
	}
	n := d.Netlist.Node(id)
	if n == nil || n.Associated() {
		return Reject
	}
	s := c.groupScore(d, g, n, 0)
	if s > PerfectScore {
		s = PerfectScore
	}
	return s
}

// SubcktScore compares physical instance s with electrical instance e under
// every permutation state of s and keeps the best. Contacts into wire-only
// or global master groups are ignored.
func (c *Comparator) SubcktScore(d *model.Descriptor, s *model.Subckt, e *model.ESubckt) (Match, error) {
	if s.Flattened || masterSch(s) == nil || masterSch(s) != e.Master {
		return Match{Score: Reject}, nil
	}

	n := 1
	if s.Perm != nil && s.Perm.Len() > 0 {
		n = s.Perm.Len()
	}
	best := Match{Score: Reject}
	var tied [][]int
	for i := 0; i < n; i++ {
		var state []int
		if s.Perm != nil && s.Perm.Len() > 0 {
			state = s.Perm.State(i)
		}
		score := c.stateScore(d, s, e, state)
		if score == Reject {
			continue
		}
		m := Match{Score: score, State: state}
		switch {
		case m.better(best):
			best, tied = m, nil
		case m.ties(best):
			tied = append(tied, state)
		}
	}

	if best.Score < PerfectScore && len(s.Contacts) == 2 {
		p0, p1 := s.Pin(0), s.Pin(1)
		if p0 >= 0 && p1 >= 0 && p0 < len(e.Nodes) && p1 < len(e.Nodes) &&
			backwards([]*model.Group{s.Contacts[0].Parent, s.Contacts[1].Parent}, []int{e.Nodes[p0], e.Nodes[p1]}) {
			return Match{Score: PerfectScore, State: []int{1, 0}}, nil
		}
	}

	if len(tied) > 0 {
		best.Unsure = make([]bool, len(s.Contacts))
		for _, st := range tied {
			for k := range s.Contacts {
				if statePin(s, best.State, k) != statePin(s, st, k) {
					best.Unsure[k] = true
				}
			}
		}
	}
	return best, nil
}

func statePin(s *model.Subckt, state []int, k int) int {
	if state != nil {
		k = state[k]
	}
	return s.Pin(k)
}

func (c *Comparator) stateScore(d *model.Descriptor, s *model.Subckt, e *model.ESubckt, state []int) int {
	total, count := 0, 0
	for k, sc := range s.Contacts {
		if sc.Sub.WireOnly || sc.Sub.Global {
			continue
		}
		p := statePin(s, state, k)
		if p < 0 || p >= len(e.Nodes) {
			continue
		}
		cs := c.contactScore(d, sc.Parent, e.Nodes[p])
		if cs == Reject {
			return Reject
		}
		total += cs
		count++
	}
	if count == 0 {
		return PerfectScore
	}
	return total / count
}

// DeviceParamScore compares the measured values of dev with the schematic
// parameters of e. Every measurement the type declares and both sides carry
// is classified as strong (within precision), weak (within ten times the
// precision) or a mismatch; the worst class wins. With nothing to compare
// the result is ParamInconclusive. When swapped, measurements that name a
// Swap counterpart are read from it.
func (c *Comparator) DeviceParamScore(dev *model.Device, e *model.EDevice, swapped bool) (int, error) {
	worst, compared := ParamStrong, false
	for _, m := range dev.Type.Measurements {
		name := m.Name
		if swapped && m.Swap != "" {
			name = m.Swap
		}
		measured, ok := dev.Values[name]
		if !ok {
			continue
		}
		param := m.Param
		if param == "" {
			param = m.Name
		}
		ref, ok, err := c.reference(e, param)
		if err != nil {
			return 0, fmt.Errorf("device %s parameter %s: %w", e.Name, param, err)
		}
		if !ok {
			continue
		}
		compared = true

		score := ParamMismatch
		switch {
		case scalar.EqualWithinRel(measured, ref, m.Precision):
			score = ParamStrong
		case scalar.EqualWithinRel(measured, ref, weakFactor*m.Precision):
			score = ParamWeak
		}
		if score < worst {
			worst = score
		}
	}
	if !compared {
		return ParamInconclusive, nil
	}
	return worst, nil
}

func (c *Comparator) reference(e *model.EDevice, param string) (float64, bool, error) {
	key := strings.ToLower(param)
	if v, ok := e.Params[key]; ok {
		return v, true, nil
	}
	if v, ok := e.Params[param]; ok {
		return v, true, nil
	}
	expr, ok := e.Exprs[key]
	if !ok {
		expr, ok = e.Exprs[param]
	}
	if !ok {
		return 0, false, nil
	}
	v, err := c.Params.Eval(expr)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
