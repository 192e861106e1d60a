package dual

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/lvsdual/internal/config"
	"github.com/robert-at-pretension-io/lvsdual/internal/metrics"
	"github.com/robert-at-pretension-io/lvsdual/internal/model"
)

// Solver associates one cell: it iterates candidate identification to a
// fixed point and, when stalled, breaks symmetry by trying tied candidates
// and keeping the trial that leaves the fewest unresolved objects.
type Solver struct {
	Config  config.AssociationConfig
	Compare *Comparator
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics

	// Trace holds the unresolved total after every inner iteration of the
	// last Solve, for diagnostics.
	Trace []int
}

// NewSolver returns a solver with cfg's limits. Zero limits take defaults.
func NewSolver(cfg config.AssociationConfig, cmp *Comparator, log logrus.FieldLogger) *Solver {
	def := config.DefaultConfig().Association
	setDefault(&cfg.LoopLimit, def.LoopLimit)
	setDefault(&cfg.IterationLimit, def.IterationLimit)
	setDefault(&cfg.ConfidenceLevels, def.ConfidenceLevels)
	setDefault(&cfg.AcceptThreshold, def.AcceptThreshold)
	setDefault(&cfg.SymmetryTrials, def.SymmetryTrials)
	setDefault(&cfg.PollIntervalMS, def.PollIntervalMS)
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Solver{Config: cfg, Compare: cmp, Log: log}
}

func setDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// run is the state of one Solve.
type run struct {
	*Solver
	ctx      context.Context
	desc     *model.Descriptor
	log      logrus.FieldLogger
	j        *journal
	breaking bool
	trial    bool
	polled   time.Time
	iters    int
}

// Solve extends desc's association as far as it can. Residual unresolved
// objects are not an error. A count mismatch that prevents symmetry
// breaking flags desc.Inconsistent and returns nil. Errors are
// cancellation (wrapping ErrAborted) and parameter evaluation failures.
func (s *Solver) Solve(ctx context.Context, desc *model.Descriptor) error {
	if desc.Netlist == nil {
		return fmt.Errorf("cell %s: solve before netlist build", desc.Cell)
	}
	r := &run{
		Solver: s,
		ctx:    ctx,
		desc:   desc,
		log:    s.Log.WithField("cell", desc.Cell),
		j:      newJournal(desc),
	}
	s.Trace = s.Trace[:0]
	defer r.j.release()
	defer func() { s.Metrics.SolverIterations(r.iters) }()

	r.associateGround()
	for loop := 0; loop < s.Config.LoopLimit; loop++ {
		if err := r.settle(); err != nil {
			return err
		}
		if desc.Unresolved().Total() == 0 {
			return nil
		}
		progressed, err := r.breakSymmetry()
		if err != nil {
			if errors.Is(err, ErrInconsistent) {
				r.log.WithError(err).Error("unresolved counts differ, symmetry breaking stopped")
				s.Metrics.Inconsistent()
				desc.Inconsistent = true
				return nil
			}
			return err
		}
		if !progressed {
			return nil
		}
	}
	r.log.WithField("loops", s.Config.LoopLimit).Debug("loop limit reached")
	return nil
}

func (r *run) associateGround() {
	g := r.desc.Group(0)
	n := r.desc.Netlist.Node(0)
	if g == nil || n == nil || g.Associated() || n.Associated() {
		return
	}
	r.j.associate(g, n)
}

// poll checks for cancellation at most once per poll interval; the first
// call always checks.
func (r *run) poll() error {
	now := time.Now()
	if !r.polled.IsZero() && now.Sub(r.polled) < r.Config.PollInterval() {
		return nil
	}
	r.polled = now
	select {
	case <-r.ctx.Done():
		return fmt.Errorf("cell %s: %w: %v", r.desc.Cell, ErrAborted, r.ctx.Err())
	default:
		return nil
	}
}

// settle is the inner fixed-point loop. It stops when the unresolved total
// reaches zero or stops decreasing.
func (r *run) settle() error {
	prev := r.desc.Unresolved().Total()
	for it := 0; it < r.Config.IterationLimit; it++ {
		if err := r.poll(); err != nil {
			return err
		}
		r.iters++
		r.breaking = r.desc.Unresolved().Objects() == 0
		if err := r.identifyNamed(); err != nil {
			return err
		}
		if err := r.identifyGroups(); err != nil {
			return err
		}
		if err := r.identifyDevices(); err != nil {
			return err
		}
		if err := r.identifySubckts(); err != nil {
			return err
		}
		now := r.desc.Unresolved().Total()
		if !r.trial {
			r.Trace = append(r.Trace, now)
		}
		if now == 0 || now >= prev {
			return nil
		}
		prev = now
	}
	return nil
}

// identifyGroups scores every unresolved group against every unresolved
// node and accepts a pair when its score clears the threshold and is
// strictly the best in both its row and its column. Once no devices or
// instances remain, ties are accepted in order.
func (r *run) identifyGroups() error {
	var groups []*model.Group
	for _, g := range r.desc.Groups {
		if !g.Associated() && !g.WireOnly && g.Connected() {
			groups = append(groups, g)
		}
	}
	var nodes []*model.ENode
	for _, n := range r.desc.Netlist.Nodes {
		if !n.Associated() && n.Connected() {
			nodes = append(nodes, n)
		}
	}
	if len(groups) == 0 || len(nodes) == 0 {
		return nil
	}

	scores := make([][]int, len(groups))
	for i, g := range groups {
		scores[i] = make([]int, len(nodes))
		for k, n := range nodes {
			scores[i][k] = r.Compare.GroupScore(r.desc, g, n)
		}
	}

	taken := make([]bool, len(nodes))
	for i, g := range groups {
		best, bestK, rowTie := Reject, -1, false
		for k := range nodes {
			if taken[k] {
				continue
			}
			switch s := scores[i][k]; {
			case s > best:
				best, bestK, rowTie = s, k, false
			case s == best:
				rowTie = true
			}
		}
		if bestK < 0 || best < r.Config.AcceptThreshold {
			continue
		}
		colTie := false
		for o := range groups {
			if o != i && !groups[o].Associated() && scores[o][bestK] >= best {
				colTie = true
				break
			}
		}
		if (rowTie || colTie) && !r.breaking {
			continue
		}
		r.j.associate(g, nodes[bestK])
		taken[bestK] = true
	}
	return nil
}

// confidence buckets an object by the fraction of its contacts already on
// associated groups. Higher is more constrained.
func (r *run) confidence(groups []*model.Group) int {
	if len(groups) == 0 {
		return 0
	}
	assoc := 0
	for _, g := range groups {
		if g.Associated() {
			assoc++
		}
	}
	levels := r.Config.ConfidenceLevels
	lvl := assoc * levels / len(groups)
	if lvl >= levels {
		lvl = levels - 1
	}
	return lvl
}

// candidate is one scored physical/electrical pairing.
type candidate struct {
	dev   *model.Device
	sub   *model.Subckt
	edev  *model.EDevice
	esub  *model.ESubckt
	match Match
	level int
}

func deviceGroups(d *model.Device) []*model.Group { return d.Contacts }

func subcktGroups(s *model.Subckt) []*model.Group {
	out := make([]*model.Group, len(s.Contacts))
	for i, c := range s.Contacts {
		out[i] = c.Parent
	}
	return out
}

// deviceMatrix scores every undualed device of one type against every
// undualed electrical device of that type.
func (r *run) deviceMatrix() (map[*model.DeviceType][]candidate, []*model.DeviceType, error) {
	byType := make(map[*model.DeviceType][]*model.EDevice)
	for _, e := range r.desc.Netlist.ActiveDevices() {
		if e.Dual == nil {
			byType[e.Type] = append(byType[e.Type], e)
		}
	}
	var order []*model.DeviceType
	out := make(map[*model.DeviceType][]candidate)
	for _, dev := range r.desc.Devices {
		if dev.Dual != nil {
			continue
		}
		es := byType[dev.Type]
		if len(es) == 0 {
			continue
		}
		if _, ok := out[dev.Type]; !ok {
			order = append(order, dev.Type)
			out[dev.Type] = nil
		}
		level := r.confidence(deviceGroups(dev))
		for _, e := range es {
			m, err := r.Compare.DeviceScore(r.desc, dev, e)
			if err != nil {
				return nil, nil, fmt.Errorf("cell %s: %w", r.desc.Cell, err)
			}
			if m.Score == Reject {
				continue
			}
			out[dev.Type] = append(out[dev.Type], candidate{dev: dev, edev: e, match: m, level: level})
		}
	}
	return out, order, nil
}

func (r *run) subcktMatrix() (map[*model.SchCell][]candidate, []*model.SchCell, error) {
	byMaster := make(map[*model.SchCell][]*model.ESubckt)
	for _, e := range r.desc.Netlist.Subckts {
		if e.Dual == nil {
			byMaster[e.Master] = append(byMaster[e.Master], e)
		}
	}
	var order []*model.SchCell
	out := make(map[*model.SchCell][]candidate)
	for _, s := range r.desc.ActiveSubckts() {
		if s.Dual != nil {
			continue
		}
		es := byMaster[masterSch(s)]
		if len(es) == 0 {
			continue
		}
		if _, ok := out[masterSch(s)]; !ok {
			order = append(order, masterSch(s))
			out[masterSch(s)] = nil
		}
		level := r.confidence(subcktGroups(s))
		for _, e := range es {
			m, err := r.Compare.SubcktScore(r.desc, s, e)
			if err != nil {
				return nil, nil, fmt.Errorf("cell %s: %w", r.desc.Cell, err)
			}
			if m.Score == Reject {
				continue
			}
			out[masterSch(s)] = append(out[masterSch(s)], candidate{sub: s, esub: e, match: m, level: level})
		}
	}
	return out, order, nil
}

func (c candidate) physical() any {
	if c.dev != nil {
		return c.dev
	}
	return c.sub
}

func (c candidate) electrical() any {
	if c.edev != nil {
		return c.edev
	}
	return c.esub
}

// unique picks, per confidence level from the highest down, pairs whose
// match is strictly the best for both the physical and the electrical
// object.
func (r *run) unique(cands []candidate) []candidate {
	bestPhys := make(map[any]Match)
	bestElec := make(map[any]Match)
	countPhys := make(map[any]int)
	countElec := make(map[any]int)
	for _, c := range cands {
		p, e := c.physical(), c.electrical()
		if b, ok := bestPhys[p]; !ok || c.match.better(b) {
			bestPhys[p], countPhys[p] = c.match, 1
		} else if c.match.ties(b) {
			countPhys[p]++
		}
		if b, ok := bestElec[e]; !ok || c.match.better(b) {
			bestElec[e], countElec[e] = c.match, 1
		} else if c.match.ties(b) {
			countElec[e]++
		}
	}

	var out []candidate
	for _, c := range cands {
		p, e := c.physical(), c.electrical()
		if c.match.Score < r.Config.AcceptThreshold {
			continue
		}
		if !c.match.ties(bestPhys[p]) || countPhys[p] != 1 {
			continue
		}
		if !c.match.ties(bestElec[e]) || countElec[e] != 1 {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].level > out[j].level })
	return out
}

func (r *run) identifyDevices() error {
	matrix, order, err := r.deviceMatrix()
	if err != nil {
		return err
	}
	for _, t := range order {
		for _, c := range r.unique(matrix[t]) {
			if err := r.linkDevice(c.dev, c.edev, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) identifySubckts() error {
	matrix, order, err := r.subcktMatrix()
	if err != nil {
		return err
	}
	for _, m := range order {
		for _, c := range r.unique(matrix[m]) {
			if err := r.linkSubckt(c.sub, c.esub, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// identifyNamed links devices and instances whose names agree on both
// sides. A pair links only when it scores and its orientation or state is
// unambiguous; otherwise it waits for more groups to resolve.
func (r *run) identifyNamed() error {
	edevs := make(map[string]*model.EDevice)
	for _, e := range r.desc.Netlist.ActiveDevices() {
		if e.Dual == nil && e.Name != "" {
			edevs[strings.ToLower(e.Name)] = e
		}
	}
	for _, dev := range r.desc.Devices {
		if dev.Dual != nil || dev.Name == "" {
			continue
		}
		e := edevs[strings.ToLower(dev.Name)]
		if e == nil || e.Dual != nil {
			continue
		}
		m, err := r.Compare.DeviceScore(r.desc, dev, e)
		if err != nil {
			return fmt.Errorf("cell %s: %w", r.desc.Cell, err)
		}
		if m.Score == Reject || !m.sure() {
			continue
		}
		r.applyDevice(dev, e, m)
	}

	esubs := make(map[string]*model.ESubckt)
	for _, e := range r.desc.Netlist.Subckts {
		if e.Dual == nil && e.Name != "" {
			esubs[strings.ToLower(e.Name)] = e
		}
	}
	for _, s := range r.desc.ActiveSubckts() {
		if s.Dual != nil || s.Name == "" {
			continue
		}
		e := esubs[strings.ToLower(s.Name)]
		if e == nil || e.Dual != nil {
			continue
		}
		m, err := r.Compare.SubcktScore(r.desc, s, e)
		if err != nil {
			return fmt.Errorf("cell %s: %w", r.desc.Cell, err)
		}
		if m.Score == Reject || !m.sure() {
			continue
		}
		r.applySubckt(s, e, m)
	}
	return nil
}

// linkDevice rescores the pair against the current state, links it and
// associates the groups its contacts imply. With strict set, a pair that
// no longer clears the threshold is skipped.
func (r *run) linkDevice(dev *model.Device, e *model.EDevice, strict bool) error {
	if dev.Dual != nil || e.Dual != nil {
		return nil
	}
	m, err := r.Compare.DeviceScore(r.desc, dev, e)
	if err != nil {
		return fmt.Errorf("cell %s: %w", r.desc.Cell, err)
	}
	if m.Score == Reject || (strict && m.Score < r.Config.AcceptThreshold) {
		return nil
	}
	r.applyDevice(dev, e, m)
	return nil
}

func (r *run) applyDevice(dev *model.Device, e *model.EDevice, m Match) {
	r.j.linkDevice(dev, e, m.Swapped)
	for i, id := range e.Nodes {
		if m.Unsure != nil && m.Unsure[i] {
			continue
		}
		r.propagate(dev.Contact(i), id)
	}
}

func (r *run) linkSubckt(s *model.Subckt, e *model.ESubckt, strict bool) error {
	if s.Dual != nil || e.Dual != nil {
		return nil
	}
	m, err := r.Compare.SubcktScore(r.desc, s, e)
	if err != nil {
		return fmt.Errorf("cell %s: %w", r.desc.Cell, err)
	}
	if m.Score == Reject || (strict && m.Score < r.Config.AcceptThreshold) {
		return nil
	}
	r.applySubckt(s, e, m)
	return nil
}

func (r *run) applySubckt(s *model.Subckt, e *model.ESubckt, m Match) {
	r.j.linkSubckt(s, e, m.State)
	for k, sc := range s.Contacts {
		if (m.Unsure != nil && m.Unsure[k]) || sc.Sub.WireOnly || sc.Sub.Global {
			continue
		}
		p := s.EffectivePin(k)
		if p < 0 || p >= len(e.Nodes) {
			continue
		}
		r.propagate(sc.Parent, e.Nodes[p])
	}
}

// propagate associates g with node id when both are still free.
func (r *run) propagate(g *model.Group, id int) {
	if g.Associated() {
		return
	}
	n := r.desc.Netlist.Node(id)
	if n == nil || n.Associated() {
		return
	}
	r.j.associate(g, n)
}

type countError struct {
	kind, name           string
	physical, electrical int
}

func (e *countError) Error() string {
	return fmt.Sprintf("%s %s: %d physical vs %d electrical unresolved", e.kind, e.name, e.physical, e.electrical)
}

func (e *countError) Unwrap() error { return ErrInconsistent }

// checkCounts verifies that unresolved devices and instances pair up per
// type and per master.
func (r *run) checkCounts() error {
	physDev := make(map[*model.DeviceType]int)
	elecDev := make(map[*model.DeviceType]int)
	var types []*model.DeviceType
	for _, d := range r.desc.Devices {
		if d.Dual == nil {
			if _, ok := physDev[d.Type]; !ok {
				types = append(types, d.Type)
			}
			physDev[d.Type]++
		}
	}
	for _, e := range r.desc.Netlist.ActiveDevices() {
		if e.Dual == nil {
			if _, ok := physDev[e.Type]; !ok {
				if _, seen := elecDev[e.Type]; !seen {
					types = append(types, e.Type)
				}
			}
			elecDev[e.Type]++
		}
	}
	for _, t := range types {
		if physDev[t] != elecDev[t] {
			return &countError{kind: "device type", name: t.Name, physical: physDev[t], electrical: elecDev[t]}
		}
	}

	physSub := make(map[*model.SchCell]int)
	elecSub := make(map[*model.SchCell]int)
	var masters []*model.SchCell
	for _, s := range r.desc.ActiveSubckts() {
		if s.Dual == nil {
			m := masterSch(s)
			if _, ok := physSub[m]; !ok {
				masters = append(masters, m)
			}
			physSub[m]++
		}
	}
	for _, e := range r.desc.Netlist.Subckts {
		if e.Dual == nil {
			if _, ok := physSub[e.Master]; !ok {
				if _, seen := elecSub[e.Master]; !seen {
					masters = append(masters, e.Master)
				}
			}
			elecSub[e.Master]++
		}
	}
	for _, m := range masters {
		if physSub[m] != elecSub[m] {
			name := "<none>"
			if m != nil {
				name = m.Name
			}
			return &countError{kind: "master", name: name, physical: physSub[m], electrical: elecSub[m]}
		}
	}
	return nil
}

// decision is an object with several equally good counterparts.
type decision struct {
	cands []candidate
	level int
}

// pickDecision chooses the most constrained unresolved object whose best
// counterparts tie: highest confidence level first, then fewest ties.
func (r *run) pickDecision() (*decision, error) {
	devs, dorder, err := r.deviceMatrix()
	if err != nil {
		return nil, err
	}
	subs, sorder, err := r.subcktMatrix()
	if err != nil {
		return nil, err
	}
	var all [][]candidate
	for _, t := range dorder {
		all = append(all, devs[t])
	}
	for _, m := range sorder {
		all = append(all, subs[m])
	}

	var best *decision
	for _, cands := range all {
		var objs []any
		byObj := make(map[any][]candidate)
		for _, c := range cands {
			if c.match.Score < r.Config.AcceptThreshold {
				continue
			}
			p := c.physical()
			if _, ok := byObj[p]; !ok {
				objs = append(objs, p)
			}
			byObj[p] = append(byObj[p], c)
		}
		for _, p := range objs {
			cs := byObj[p]
			top := cs[0].match
			for _, c := range cs[1:] {
				if c.match.better(top) {
					top = c.match
				}
			}
			var tied []candidate
			for _, c := range cs {
				if c.match.ties(top) {
					tied = append(tied, c)
				}
			}
			d := &decision{cands: tied, level: cs[0].level}
			if best == nil || d.level > best.level || (d.level == best.level && len(d.cands) < len(best.cands)) {
				best = d
			}
		}
	}
	return best, nil
}

// breakSymmetry forces one choice at the most constrained decision point.
// Up to SymmetryTrials tied candidates are tried in turn, each followed by
// a settle and rolled back; the trial with the smallest residual is
// replayed. It reports whether anything was decided.
func (r *run) breakSymmetry() (bool, error) {
	if err := r.checkCounts(); err != nil {
		return false, err
	}
	d, err := r.pickDecision()
	if err != nil || d == nil {
		return false, err
	}

	base := r.j.mark()
	bestResidual := -1
	var bestRecords []record
	for i, c := range d.cands {
		if i >= r.Config.SymmetryTrials {
			break
		}
		r.Metrics.SymmetryTrial()
		if c.dev != nil {
			err = r.linkDevice(c.dev, c.edev, false)
		} else {
			err = r.linkSubckt(c.sub, c.esub, false)
		}
		if err == nil {
			r.trial = true
			err = r.settle()
			r.trial = false
		}
		if err != nil {
			r.j.rollback(base)
			return false, err
		}
		residual := r.desc.Unresolved().Total()
		r.log.WithFields(logrus.Fields{"trial": i, "residual": residual}).Debug("symmetry trial")
		if bestResidual < 0 || residual < bestResidual {
			bestResidual = residual
			bestRecords = r.j.since(base)
		}
		r.j.rollback(base)
		if residual == 0 {
			break
		}
	}
	if len(bestRecords) == 0 {
		return false, nil
	}
	r.j.replay(bestRecords)
	r.Trace = append(r.Trace, r.desc.Unresolved().Total())
	return true, nil
}

// Check unlinks every device and instance whose contacts land on associated
// groups that disagree with the dual's nodes, and returns how many it
// unlinked.
func (s *Solver) Check(desc *model.Descriptor) int {
	if desc.Netlist == nil {
		return 0
	}
	j := newJournal(desc)
	defer j.release()
	count := 0
	for _, dev := range desc.Devices {
		e := dev.Dual
		if e == nil {
			continue
		}
		for i, id := range e.Nodes {
			if g := dev.Contact(i); g.Associated() && g.Node != id {
				j.unlinkDevice(dev)
				count++
				break
			}
		}
	}
	for _, sc := range desc.ActiveSubckts() {
		e := sc.Dual
		if e == nil {
			continue
		}
		for k, c := range sc.Contacts {
			if c.Sub.WireOnly || c.Sub.Global {
				continue
			}
			p := sc.EffectivePin(k)
			if p < 0 || p >= len(e.Nodes) {
				continue
			}
			if c.Parent.Associated() && c.Parent.Node != e.Nodes[p] {
				j.unlinkSubckt(sc)
				count++
				break
			}
		}
	}
	if count > 0 {
		s.Log.WithFields(logrus.Fields{"cell": desc.Cell, "unlinked": count}).Info("contradicted duals unlinked")
	}
	return count
}
