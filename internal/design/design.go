// Package design loads device types, schematic cells and extracted layout
// cells from JSON or YAML files and builds the in-memory model the
// association engine works on.
package design

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/yaml"

	"github.com/robert-at-pretension-io/lvsdual/internal/model"
	"github.com/robert-at-pretension-io/lvsdual/internal/validator"
)

// Library is the merged content of one or more design files.
type Library struct {
	DeviceTypes map[string]*model.DeviceType
	Schematics  map[string]*model.SchCell
	Layouts     map[string]*model.Descriptor

	// Cells lists layout cells in declaration order
	Cells []string
	Top   string
}

// Load reads every path concurrently, validates each against the design
// schema and merges them in argument order.
func Load(ctx context.Context, paths ...string) (*Library, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no design files given")
	}
	files := make([]*File, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			f, err := Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Build(files...)
}

// Parse converts YAML or JSON to a validated File.
func Parse(data []byte) (*File, error) {
	jsonBytes, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parsing design: %w", err)
	}
	v, err := validator.New()
	if err != nil {
		return nil, err
	}
	if err := v.ValidateJSON(jsonBytes); err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(jsonBytes, &f); err != nil {
		return nil, fmt.Errorf("decoding design: %w", err)
	}
	return &f, nil
}

// Build merges files into a Library. Names must be unique across files.
func Build(files ...*File) (*Library, error) {
	lib := &Library{
		DeviceTypes: make(map[string]*model.DeviceType),
		Schematics:  make(map[string]*model.SchCell),
		Layouts:     make(map[string]*model.Descriptor),
	}
	var schSpecs []SchematicSpec
	var laySpecs []LayoutSpec
	for _, f := range files {
		for _, dt := range f.DeviceTypes {
			if err := lib.addDeviceType(dt); err != nil {
				return nil, err
			}
		}
		schSpecs = append(schSpecs, f.Schematics...)
		laySpecs = append(laySpecs, f.Layouts...)
		if f.Top != "" {
			if lib.Top != "" && lib.Top != f.Top {
				return nil, fmt.Errorf("conflicting top cells %s and %s", lib.Top, f.Top)
			}
			lib.Top = f.Top
		}
	}

	for _, s := range schSpecs {
		if _, dup := lib.Schematics[s.Name]; dup {
			return nil, fmt.Errorf("schematic %s defined twice", s.Name)
		}
		lib.Schematics[s.Name] = newSchCell(s)
	}
	for _, s := range schSpecs {
		if err := lib.addInstances(s); err != nil {
			return nil, err
		}
	}

	for _, l := range laySpecs {
		if err := lib.addLayout(l); err != nil {
			return nil, err
		}
	}
	for _, l := range laySpecs {
		if err := lib.addSubckts(l); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// TopCell resolves name, the declared top, or the only layout cell that no
// other cell instantiates, in that order.
func (l *Library) TopCell(name string) (*model.Descriptor, error) {
	if name == "" {
		name = l.Top
	}
	if name != "" {
		d, ok := l.Layouts[name]
		if !ok {
			return nil, fmt.Errorf("top cell %s not found", name)
		}
		return d, nil
	}
	var roots []string
	for _, c := range l.Cells {
		if len(l.Layouts[c].Sites) == 0 {
			roots = append(roots, c)
		}
	}
	switch len(roots) {
	case 0:
		return nil, fmt.Errorf("no top cell: every layout cell is instantiated")
	case 1:
		return l.Layouts[roots[0]], nil
	}
	return nil, fmt.Errorf("ambiguous top cell, candidates: %s", strings.Join(roots, ", "))
}

func (l *Library) addDeviceType(s DeviceTypeSpec) error {
	if _, dup := l.DeviceTypes[s.Name]; dup {
		return fmt.Errorf("device type %s defined twice", s.Name)
	}
	ms := make([]model.Measurement, len(s.Measurements))
	for i, m := range s.Measurements {
		param := m.Param
		if param == "" {
			param = m.Name
		}
		ms[i] = model.Measurement{
			Name:      m.Name,
			Param:     param,
			Precision: m.Precision,
			Additive:  m.Additive,
			Swap:      m.Swap,
		}
	}
	t, err := model.NewDeviceType(s.Name, s.Contacts, s.Permutable, ms)
	if err != nil {
		return err
	}
	l.DeviceTypes[s.Name] = t
	return nil
}

func newSchCell(s SchematicSpec) *model.SchCell {
	n := 1
	grow := func(id int) {
		if id+1 > n {
			n = id + 1
		}
	}
	for _, p := range s.Pins {
		grow(p.Node)
	}
	for _, nd := range s.Nodes {
		grow(nd.ID)
	}
	for _, inst := range s.Instances {
		for _, vec := range inst.Nodes {
			for _, id := range vec {
				grow(id)
			}
		}
	}

	c := model.NewSchCell(s.Name, n)
	for _, nd := range s.Nodes {
		if nd.Name != "" {
			c.NodeNames[nd.ID] = nd.Name
		}
		if nd.Global {
			c.Global[nd.ID] = true
		}
	}
	for _, p := range s.Pins {
		c.Pins = append(c.Pins, model.SchPin{Name: p.Name, Node: p.Node})
		if c.NodeNames[p.Node] == "" {
			c.NodeNames[p.Node] = p.Name
		}
	}
	for k, v := range s.Params {
		c.Params[k] = v
	}
	return c
}

func (l *Library) addInstances(s SchematicSpec) error {
	c := l.Schematics[s.Name]
	for _, is := range s.Instances {
		inst := &model.SchInstance{
			Name:       is.Name,
			Nodes:      is.Nodes,
			Params:     map[string]string(is.Params),
			Flatten:    is.Flatten,
			NoPhysical: is.NoPhysical,
			WireCap:    is.WireCap,
		}
		if inst.Params == nil {
			inst.Params = make(map[string]string)
		}
		switch {
		case is.Device != "" && is.Subckt != "":
			return fmt.Errorf("schematic %s: instance %s names both a device and a subckt", s.Name, is.Name)
		case is.Device != "":
			t, ok := l.DeviceTypes[is.Device]
			if !ok {
				return fmt.Errorf("schematic %s: instance %s: unknown device type %s", s.Name, is.Name, is.Device)
			}
			inst.Device = t
		case is.Subckt != "":
			m, ok := l.Schematics[is.Subckt]
			if !ok {
				return fmt.Errorf("schematic %s: instance %s: unknown subckt %s", s.Name, is.Name, is.Subckt)
			}
			inst.Master = m
		default:
			return fmt.Errorf("schematic %s: instance %s names neither a device nor a subckt", s.Name, is.Name)
		}
		c.Instances = append(c.Instances, inst)
	}
	return nil
}

func (l *Library) addLayout(s LayoutSpec) error {
	if _, dup := l.Layouts[s.Name]; dup {
		return fmt.Errorf("layout %s defined twice", s.Name)
	}
	schName := s.Schematic
	if schName == "" {
		schName = s.Name
	}
	sch, ok := l.Schematics[schName]
	if !ok {
		return fmt.Errorf("layout %s: schematic %s not found", s.Name, schName)
	}

	n := 1
	grow := func(id int) {
		if id+1 > n {
			n = id + 1
		}
	}
	for _, g := range s.Groups {
		grow(g.ID)
	}
	for _, d := range s.Devices {
		for _, id := range d.Contacts {
			grow(id)
		}
	}
	for _, sc := range s.Subckts {
		for _, c := range sc.Contacts {
			grow(c.Parent)
		}
	}

	d := model.NewDescriptor(s.Name, sch, n)
	for _, gs := range s.Groups {
		g := d.Groups[gs.ID]
		g.Name = gs.Name
		g.Global = gs.Global
		g.WireOnly = gs.WireOnly
		g.CellConn = gs.CellConn
		if gs.Name != "" {
			g.Origin = model.NameLabel
			if gs.Origin != "" {
				g.Origin = model.ParseNameOrigin(gs.Origin)
			}
		}
		for _, t := range gs.Terminals {
			g.AddTerminal(t.Name, t.Fixed)
		}
	}
	for _, ds := range s.Devices {
		t, ok := l.DeviceTypes[ds.Type]
		if !ok {
			return fmt.Errorf("layout %s: device %s: unknown type %s", s.Name, ds.Name, ds.Type)
		}
		if len(ds.Contacts) != len(t.Contacts) {
			return fmt.Errorf("layout %s: device %s has %d contacts, type %s needs %d",
				s.Name, ds.Name, len(ds.Contacts), t.Name, len(t.Contacts))
		}
		contacts := make([]*model.Group, len(ds.Contacts))
		for i, id := range ds.Contacts {
			contacts[i] = d.Groups[id]
		}
		values := make(map[string]float64, len(ds.Values))
		for k, v := range ds.Values {
			values[k] = v
		}
		d.Devices = append(d.Devices, model.NewDevice(ds.Name, t, contacts, values))
	}
	l.Layouts[s.Name] = d
	l.Cells = append(l.Cells, s.Name)
	return nil
}

func (l *Library) addSubckts(s LayoutSpec) error {
	d := l.Layouts[s.Name]
	for _, ss := range s.Subckts {
		master, ok := l.Layouts[ss.Master]
		if !ok {
			return fmt.Errorf("layout %s: subckt %s: unknown master %s", s.Name, ss.Name, ss.Master)
		}
		contacts := make([]model.SubcktContact, len(ss.Contacts))
		for i, c := range ss.Contacts {
			sub := master.Group(c.Sub)
			if sub == nil {
				return fmt.Errorf("layout %s: subckt %s: master %s has no group %d", s.Name, ss.Name, ss.Master, c.Sub)
			}
			contacts[i] = model.SubcktContact{Parent: d.Groups[c.Parent], Sub: sub}
		}
		d.Subckts = append(d.Subckts, model.NewSubckt(ss.Name, d, master, contacts))
	}
	return nil
}

// Names returns the sorted keys of a name-indexed map.
func Names[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
