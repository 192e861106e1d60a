package model

// FlattenSubckt absorbs instance s into d: the master's internal groups,
// devices and nested instances are copied in under s's name, contacts are
// reconnected to the parent groups, and s is marked Flattened. Group ids are
// renumbered afterwards.
func (d *Descriptor) FlattenSubckt(s *Subckt) {
	if s.Flattened {
		return
	}
	m := s.Master
	mapped := make(map[*Group]*Group, len(m.Groups))
	for _, c := range s.Contacts {
		if _, ok := mapped[c.Sub]; !ok {
			mapped[c.Sub] = c.Parent
		}
	}
	if len(m.Groups) > 0 && len(d.Groups) > 0 {
		if _, ok := mapped[m.Groups[0]]; !ok {
			mapped[m.Groups[0]] = d.Groups[0]
		}
	}

	groupFor := func(mg *Group) *Group {
		if g, ok := mapped[mg]; ok {
			return g
		}
		var g *Group
		if mg.Global && mg.Name != "" {
			if existing := d.GroupNamed(mg.Name); existing != nil && existing.Global {
				g = existing
			}
		}
		if g == nil {
			g = d.AddGroup()
			g.Global = mg.Global
			g.WireOnly = mg.WireOnly
			if mg.Name != "" {
				g.Name = mg.Name
				if !mg.Global {
					g.Name = s.Name + "/" + mg.Name
				}
				g.Origin = mg.Origin
			}
		}
		mapped[mg] = g
		return g
	}

	for _, dev := range m.Devices {
		contacts := make([]*Group, len(dev.Contacts))
		for i, mg := range dev.Contacts {
			contacts[i] = groupFor(mg)
		}
		values := make(map[string]float64, len(dev.Values))
		for k, v := range dev.Values {
			values[k] = v
		}
		d.Devices = append(d.Devices, NewDevice(s.Name+"/"+dev.Name, dev.Type, contacts, values))
	}
	for _, sub := range m.Subckts {
		if sub.Flattened {
			continue
		}
		contacts := make([]SubcktContact, len(sub.Contacts))
		for i, c := range sub.Contacts {
			contacts[i] = SubcktContact{Parent: groupFor(c.Parent), Sub: c.Sub}
		}
		d.Subckts = append(d.Subckts, NewSubckt(s.Name+"/"+sub.Name, d, sub.Master, contacts))
	}

	for i, c := range s.Contacts {
		c.Parent.removeContact(Contact{Subckt: s, Index: i})
	}
	for i, site := range m.Sites {
		if site.Inst == s {
			m.Sites = append(m.Sites[:i], m.Sites[i+1:]...)
			break
		}
	}
	s.Flattened = true
	d.Renumber()
}

// Renumber drops groups left without connections, terminals or names and
// reassigns ids densely. Group 0 keeps id 0.
func (d *Descriptor) Renumber() {
	kept := d.Groups[:0]
	for i, g := range d.Groups {
		if i == 0 || g.Connected() || g.Name != "" {
			kept = append(kept, g)
		}
	}
	for i, g := range kept {
		g.ID = i
	}
	d.Groups = kept
}
