package dual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robert-at-pretension-io/lvsdual/internal/config"
	"github.com/robert-at-pretension-io/lvsdual/internal/metrics"
	"github.com/robert-at-pretension-io/lvsdual/internal/model"
	"github.com/robert-at-pretension-io/lvsdual/internal/netlist"
	"github.com/robert-at-pretension-io/lvsdual/internal/params"
	"github.com/robert-at-pretension-io/lvsdual/internal/permute"
)

// Progress receives a notification around every cell pass.
type Progress interface {
	Begin(pass int, cell string)
	End(pass int, cell string, status Status)
}

// Options carries the collaborators of a Driver. Every field is optional.
type Options struct {
	Log        logrus.FieldLogger
	Params     *params.Context
	Metrics    *metrics.Metrics
	Progress   Progress
	TimingPath string
}

// Driver runs the two association passes over a cell hierarchy: bottom-up
// per-cell association with flattening retries, then a top-down pass that
// rechecks, fixes up and names every cell.
type Driver struct {
	cfg      config.AssociationConfig
	log      logrus.FieldLogger
	params   *params.Context
	cmp      *Comparator
	solver   *Solver
	metrics  *metrics.Metrics
	progress Progress
	tracer   trace.Tracer

	timingPath string
	timing     *timingRecorder

	builders map[*model.Descriptor]*netlist.Builder
	visited1 map[*model.Descriptor]bool
	visited2 map[*model.Descriptor]bool
	fresh    map[*model.Descriptor]bool
	fixed    map[*model.Descriptor]bool

	// order lists the cells pass 1 built, bottom-up
	order []*model.Descriptor
}

// NewDriver returns a driver with cfg's limits.
func NewDriver(cfg config.AssociationConfig, opts Options) *Driver {
	def := config.DefaultConfig().Association
	setDefault(&cfg.MaxDepth, def.MaxDepth)
	setDefault(&cfg.MaxPermutationStates, def.MaxPermutationStates)
	if cfg.FlattenRetries < 0 {
		cfg.FlattenRetries = 0
	}
	if cfg.CheckRounds < 0 {
		cfg.CheckRounds = 0
	}
	if cfg.PermutationFix == nil {
		cfg.PermutationFix = def.PermutationFix
	}
	if cfg.MergeParallel == nil {
		cfg.MergeParallel = def.MergeParallel
	}

	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	pc := opts.Params
	if pc == nil {
		pc = params.New()
	}
	cmp := NewComparator(pc)
	solver := NewSolver(cfg, cmp, log)
	solver.Metrics = opts.Metrics

	return &Driver{
		cfg:        cfg,
		log:        log,
		params:     pc,
		cmp:        cmp,
		solver:     solver,
		metrics:    opts.Metrics,
		progress:   opts.Progress,
		tracer:     otel.Tracer("lvsdual/dual"),
		timingPath: opts.TimingPath,
		builders:   make(map[*model.Descriptor]*netlist.Builder),
	}
}

// Solver exposes the per-cell solver.
func (d *Driver) Solver() *Solver { return d.solver }

// Comparator exposes the scoring functions.
func (d *Driver) Comparator() *Comparator { return d.cmp }

// Run associates top and every cell below it. Cells already marked
// Associated are not redone. The returned status classifies err.
func (d *Driver) Run(ctx context.Context, top *model.Descriptor) (Status, error) {
	if top == nil {
		return StatusFailed, errors.New("no top cell")
	}
	start := time.Now()
	d.timing = newTimingRecorder(start, resolveTimingPath(d.timingPath))
	defer d.timing.Close()
	if err := d.timing.Err(); err != nil {
		d.log.WithError(err).Warn("timing output disabled")
	}
	d.visited1 = make(map[*model.Descriptor]bool)
	d.visited2 = make(map[*model.Descriptor]bool)
	d.fresh = make(map[*model.Descriptor]bool)
	d.fixed = make(map[*model.Descriptor]bool)
	d.order = nil

	levels := HierarchyLevels(top)
	d.log.WithField("cell", top.Cell).Debugf("hierarchy:\n%s", levels.String())

	ctx, span := d.tracer.Start(ctx, "lvs.associate", trace.WithAttributes(
		attribute.String("lvs.top", top.Cell),
		attribute.Int("lvs.levels", len(levels.Levels)),
	))
	defer span.End()

	err := d.pass1(ctx, top, 0)
	if err == nil {
		err = d.pass2(ctx, top, 0)
	}
	// Masters whose every instance was flattened are not reachable from top
	// any more but still get their second pass.
	for _, desc := range d.order {
		if err != nil {
			break
		}
		err = d.pass2(ctx, desc, 0)
	}
	status := StatusOf(err)
	elapsed := time.Since(start)
	d.timing.RecordRun(status.String(), start, elapsed)

	entry := d.log.WithFields(logrus.Fields{"cell": top.Cell, "status": status.String(), "elapsed": elapsed.Round(time.Millisecond)})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status.String())
		entry.WithError(err).Error("association stopped")
	} else {
		span.SetStatus(codes.Ok, "")
		entry.Info("association finished")
	}
	return status, err
}

// cellPass wraps one pass over one cell with tracing, timing, metrics and
// progress notification.
func (d *Driver) cellPass(ctx context.Context, pass int, desc *model.Descriptor, fn func(context.Context) error) error {
	start := time.Now()
	if d.progress != nil {
		d.progress.Begin(pass, desc.Cell)
	}
	ctx, span := d.tracer.Start(ctx, fmt.Sprintf("lvs.pass%d", pass), trace.WithAttributes(
		attribute.String("lvs.cell", desc.Cell),
		attribute.Int("lvs.pass", pass),
	))

	err := fn(ctx)
	status := CellStatus(desc, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status.String())
	}
	span.SetAttributes(attribute.Int("lvs.discrepancies", desc.Discrepancies()))
	span.End()

	elapsed := time.Since(start)
	d.timing.RecordCell(pass, desc.Cell, status.String(), start, elapsed)
	d.metrics.CellPass(pass, status.String(), elapsed)
	d.metrics.Residual(desc.Cell, desc.Unresolved())
	if d.progress != nil {
		d.progress.End(pass, desc.Cell, status)
	}
	return err
}

// pass1 associates the masters of desc, then desc itself. A cell is
// marked visited only after its masters finish, so an instantiation cycle
// runs into the depth limit.
func (d *Driver) pass1(ctx context.Context, desc *model.Descriptor, depth int) error {
	if depth > d.cfg.MaxDepth {
		return fmt.Errorf("cell %s at depth %d: %w", desc.Cell, depth, ErrDepthExceeded)
	}
	if d.visited1[desc] {
		return nil
	}
	for _, m := range desc.Masters() {
		if err := d.pass1(ctx, m, depth+1); err != nil {
			return err
		}
	}
	d.visited1[desc] = true
	if desc.Associated {
		return nil
	}
	if desc.Schematic == nil {
		d.log.WithField("cell", desc.Cell).Warn("no schematic, cell left unassociated")
		return nil
	}
	d.fresh[desc] = true
	d.order = append(d.order, desc)
	return d.cellPass(ctx, 1, desc, func(ctx context.Context) error {
		return d.associate(ctx, desc)
	})
}

// associate is the pass-1 body: build, merge and solve, then
// retry after flattening while discrepancies remain.
func (d *Driver) associate(ctx context.Context, desc *model.Descriptor) error {
	physical, electrical := 0, 0
	for {
		if err := d.prepare(desc); err != nil {
			return err
		}
		if err := d.solver.Solve(ctx, desc); err != nil {
			return err
		}
		if desc.Discrepancies() == 0 {
			break
		}
		if physical < d.cfg.FlattenRetries {
			if n := d.flattenPhysical(desc); n > 0 {
				physical++
				d.metrics.Flattened("physical", n)
				d.log.WithFields(logrus.Fields{"cell": desc.Cell, "kind": "physical", "count": n}).Info("flattened unmatched instances")
				continue
			}
		}
		if electrical < d.cfg.FlattenRetries {
			if n := d.flattenElectrical(desc); n > 0 {
				electrical++
				d.metrics.Flattened("electrical", n)
				d.log.WithFields(logrus.Fields{"cell": desc.Cell, "kind": "electrical", "count": n}).Info("flattened unmatched instances")
				continue
			}
		}
		break
	}
	d.logResiduals(desc, 1)
	return nil
}

// prepare clears desc and rebuilds its netlist and permutation data.
func (d *Driver) prepare(desc *model.Descriptor) error {
	desc.ClearDuality()
	b := d.builders[desc]
	if b == nil {
		b = netlist.NewBuilder(d.params, d.log, d.cfg.MaxDepth)
		d.builders[desc] = b
	}
	n, err := b.Build(desc)
	if err != nil {
		if errors.Is(err, netlist.ErrTooDeep) {
			return fmt.Errorf("cell %s: %w: %w", desc.Cell, ErrDepthExceeded, err)
		}
		return fmt.Errorf("cell %s: %w", desc.Cell, err)
	}
	desc.Netlist = n
	desc.PermGroups = permute.Detect(n)
	d.cmp.SetPermGroups(desc.Schematic, desc.PermGroups)
	for _, s := range desc.ActiveSubckts() {
		s.Perm = permute.NewGenerator(s, s.Master.PermGroups, d.cfg.MaxPermutationStates)
	}

	if *d.cfg.MergeParallel {
		d.metrics.Merged(netlist.MergeParallel(n, desc))
	}
	return nil
}

// flattenPhysical flattens every undualed physical instance that has no
// undualed electrical instance of its master left to match.
func (d *Driver) flattenPhysical(desc *model.Descriptor) int {
	free := make(map[*model.SchCell]int)
	for _, e := range desc.Netlist.Subckts {
		if e.Dual == nil {
			free[e.Master]++
		}
	}
	count := 0
	for _, s := range desc.ActiveSubckts() {
		if s.Dual != nil {
			continue
		}
		if sch := masterSch(s); sch == nil || free[sch] == 0 {
			d.log.WithFields(logrus.Fields{"cell": desc.Cell, "name": s.Name}).Debug("flattening physical instance")
			desc.FlattenSubckt(s)
			count++
		}
	}
	return count
}

// flattenElectrical marks for flattening every undualed electrical instance
// whose master has no undualed physical instance left to match.
func (d *Driver) flattenElectrical(desc *model.Descriptor) int {
	free := make(map[*model.SchCell]int)
	for _, s := range desc.ActiveSubckts() {
		if s.Dual == nil {
			if sch := masterSch(s); sch != nil {
				free[sch]++
			}
		}
	}
	count := 0
	for _, e := range desc.Netlist.Subckts {
		if e.Dual != nil || free[e.Master] > 0 {
			continue
		}
		key := model.FlatKey{Inst: e.Inst, Vector: e.Vector}
		if desc.ForceFlatten[key] {
			continue
		}
		d.log.WithFields(logrus.Fields{"cell": desc.Cell, "name": e.Name}).Debug("flattening electrical instance")
		desc.ForceFlatten[key] = true
		count++
	}
	return count
}

// pass2 finishes desc, then its masters.
func (d *Driver) pass2(ctx context.Context, desc *model.Descriptor, depth int) error {
	if depth > d.cfg.MaxDepth {
		return fmt.Errorf("cell %s at depth %d: %w", desc.Cell, depth, ErrDepthExceeded)
	}
	if d.visited2[desc] {
		return nil
	}
	d.visited2[desc] = true
	if d.fresh[desc] && desc.Netlist != nil {
		err := d.cellPass(ctx, 2, desc, func(ctx context.Context) error {
			return d.finish(ctx, desc)
		})
		if err != nil {
			return err
		}
	}
	for _, m := range desc.Masters() {
		if err := d.pass2(ctx, m, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// finish is the pass-2 body.
func (d *Driver) finish(ctx context.Context, desc *model.Descriptor) error {
	if err := d.solver.Solve(ctx, desc); err != nil {
		return err
	}
	for round := 0; round < d.cfg.CheckRounds && desc.Discrepancies() > 0; round++ {
		if d.solver.Check(desc) == 0 {
			break
		}
		if err := d.solver.Solve(ctx, desc); err != nil {
			return err
		}
	}
	if n := d.fixup(desc); n > 0 {
		d.log.WithFields(logrus.Fields{"cell": desc.Cell, "count": n}).Debug("wire-only groups associated")
	}
	if *d.cfg.PermutationFix {
		if err := d.permutationFix(ctx, desc); err != nil {
			return err
		}
	}
	d.propagateNames(desc)
	desc.Associated = true
	desc.Extracted = true
	d.logResiduals(desc, 2)
	return nil
}

// fixup associates wire-only groups that carry terminals. The node comes
// from a dualed instantiation site when there is one, else from the pin the
// terminal names.
func (d *Driver) fixup(desc *model.Descriptor) int {
	count := 0
	for _, g := range desc.Groups {
		if g.Associated() || !g.WireOnly || len(g.Terminals) == 0 {
			continue
		}
		n := d.terminalNode(desc, g)
		if n == nil || n.Associated() {
			continue
		}
		model.AssociateGroup(g, n)
		count++
	}
	return count
}

func (d *Driver) terminalNode(desc *model.Descriptor, g *model.Group) *model.ENode {
	sch := desc.Schematic
	for _, site := range desc.Sites {
		s := site.Inst
		if s.Flattened || s.Dual == nil {
			continue
		}
		for k, c := range s.Contacts {
			if c.Sub != g {
				continue
			}
			if p := s.EffectivePin(k); p >= 0 && p < len(sch.Pins) {
				return desc.Netlist.Node(sch.Pins[p].Node)
			}
		}
	}
	for _, t := range g.Terminals {
		if p := sch.PinIndex(t.Name); p >= 0 {
			return desc.Netlist.Node(sch.Pins[p].Node)
		}
	}
	return nil
}

// permutationFix revisits masters instantiated under a non-identity
// permutation state. The master is re-associated with each group hinted
// toward the pin its parent connection implies; when that succeeds cleanly
// every instantiation site is relinked, otherwise the master is restored.
// Each master is tried once per run.
func (d *Driver) permutationFix(ctx context.Context, desc *model.Descriptor) error {
	if desc.Discrepancies() != 0 {
		return nil
	}
	for _, s := range desc.ActiveSubckts() {
		m := s.Master
		if s.Dual == nil || identity(s.State) || d.fixed[m] || m.Netlist == nil || m.Schematic == nil {
			continue
		}
		if m.Discrepancies() != 0 {
			continue
		}
		d.fixed[m] = true
		ok, err := d.fixMaster(ctx, s)
		if err != nil {
			return err
		}
		d.log.WithFields(logrus.Fields{"cell": desc.Cell, "name": s.Name, "master": m.Cell, "applied": ok}).Info("permutation fix")
	}
	return nil
}

func (d *Driver) fixMaster(ctx context.Context, s *model.Subckt) (bool, error) {
	m := s.Master
	hints := make(map[*model.Group]int, len(s.Contacts))
	for k, c := range s.Contacts {
		p := s.EffectivePin(k)
		if p < 0 || p >= len(m.Schematic.Pins) {
			continue
		}
		hints[c.Sub] = m.Schematic.Pins[p].Node
	}
	if len(hints) == 0 {
		return false, nil
	}

	snap := takeSnapshot(m)
	for g, n := range hints {
		g.HintNode = n
	}
	defer func() {
		for g := range hints {
			g.HintNode = model.Unassociated
		}
	}()

	m.ClearDuality()
	d.cmp.Hints = true
	err := d.solver.Solve(ctx, m)
	d.cmp.Hints = false
	if err != nil {
		snap.restore(m)
		return false, err
	}

	ok := m.Discrepancies() == 0
	for g, n := range hints {
		if g.Node != n {
			ok = false
		}
	}
	if ok {
		ok, err = d.relinkSites(m)
	}
	if err != nil || !ok {
		snap.restore(m)
		return false, err
	}
	m.Associated = snap.assoc
	return true, nil
}

// relinkSites recomputes the permutation state of every dualed
// instantiation of m after m's association changed. When any site no
// longer matches its dual perfectly every site keeps its previous link.
func (d *Driver) relinkSites(m *model.Descriptor) (bool, error) {
	type link struct {
		inst  *model.Subckt
		dual  *model.ESubckt
		state []int
	}
	var links []link
	for _, site := range m.Sites {
		inst := site.Inst
		if inst.Flattened || inst.Dual == nil {
			continue
		}
		links = append(links, link{inst: inst, dual: inst.Dual, state: inst.State})
		model.UnlinkSubckt(inst)
	}
	states := make([][]int, len(links))
	var err error
	ok := true
	for i, l := range links {
		l.inst.Perm = permute.NewGenerator(l.inst, m.PermGroups, d.cfg.MaxPermutationStates)
		var match Match
		match, err = d.cmp.SubcktScore(parentOf(m, l.inst), l.inst, l.dual)
		if err != nil || match.Score < PerfectScore {
			ok = false
			break
		}
		states[i] = match.State
	}
	for i, l := range links {
		if ok {
			model.LinkSubckt(l.inst, l.dual, states[i])
		} else {
			model.LinkSubckt(l.inst, l.dual, l.state)
		}
	}
	return ok, err
}

func parentOf(m *model.Descriptor, inst *model.Subckt) *model.Descriptor {
	for _, site := range m.Sites {
		if site.Inst == inst {
			return site.Parent
		}
	}
	return nil
}

func identity(state []int) bool {
	for k, v := range state {
		if k != v {
			return false
		}
	}
	return true
}

// propagateNames gives unnamed associated groups the name of their node.
func (d *Driver) propagateNames(desc *model.Descriptor) {
	for _, g := range desc.Groups {
		if g.Name != "" || !g.Associated() {
			continue
		}
		if n := desc.NodeOf(g); n != nil && n.Name != "" {
			g.Name = n.Name
			g.Origin = model.NameInferred
		}
	}
}

// logResiduals writes one warning per object left without a dual.
func (d *Driver) logResiduals(desc *model.Descriptor, pass int) {
	entry := d.log.WithFields(logrus.Fields{"cell": desc.Cell, "pass": pass})
	residuals := desc.Residuals()
	if len(residuals) == 0 {
		entry.Debug("cell fully associated")
		return
	}
	for _, r := range residuals {
		entry.WithFields(logrus.Fields{
			"kind": r.Kind,
			"side": r.Side,
			"name": r.Name,
		}).Warn("unresolved object")
	}
}
