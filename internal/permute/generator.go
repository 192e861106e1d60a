package permute

import "github.com/robert-at-pretension-io/lvsdual/internal/model"

// DefaultMaxStates caps the number of states a Generator enumerates.
const DefaultMaxStates = 720

// Generator enumerates contact permutations of one subcircuit instance. The
// state space is the product of all orderings within each permutation group;
// state 0 is the identity.
type Generator struct {
	size   int
	states [][]int
}

// NewGenerator maps groups of master pin indexes onto the contacts of s and
// enumerates up to max states. Groups that reach fewer than two contacts of
// s are ignored.
func NewGenerator(s *model.Subckt, groups [][]int, max int) *Generator {
	if max <= 0 {
		max = DefaultMaxStates
	}
	g := &Generator{size: len(s.Contacts)}

	var slots [][]int
	for _, group := range groups {
		member := make(map[int]bool, len(group))
		for _, p := range group {
			member[p] = true
		}
		var contacts []int
		for k := range s.Contacts {
			if member[s.Pin(k)] {
				contacts = append(contacts, k)
			}
		}
		if len(contacts) >= 2 {
			slots = append(slots, contacts)
		}
	}

	identity := make([]int, g.size)
	for k := range identity {
		identity[k] = k
	}
	g.states = [][]int{identity}
	for _, contacts := range slots {
		perms := permutations(contacts, max)
		var next [][]int
		for _, base := range g.states {
			for _, p := range perms {
				if len(next) >= max {
					break
				}
				st := append([]int(nil), base...)
				for i, k := range contacts {
					st[k] = p[i]
				}
				next = append(next, st)
			}
		}
		g.states = next
	}
	return g
}

// Len is the number of enumerated states.
func (g *Generator) Len() int {
	return len(g.states)
}

// State returns state i. State(i)[k] is the contact whose pin contact k is
// matched against.
func (g *Generator) State(i int) []int {
	return g.states[i]
}

// permutations returns the orderings of items in lexicographic order of
// position, identity first, stopping at max.
func permutations(items []int, max int) [][]int {
	n := len(items)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	var out [][]int
	for {
		p := make([]int, n)
		for i, j := range idx {
			p[i] = items[j]
		}
		out = append(out, p)
		if len(out) >= max || !nextPermutation(idx) {
			return out
		}
	}
}

func nextPermutation(a []int) bool {
	i := len(a) - 2
	for i >= 0 && a[i] >= a[i+1] {
		i--
	}
	if i < 0 {
		return false
	}
	j := len(a) - 1
	for a[j] <= a[i] {
		j--
	}
	a[i], a[j] = a[j], a[i]
	for l, r := i+1, len(a)-1; l < r; l, r = l+1, r-1 {
		a[l], a[r] = a[r], a[l]
	}
	return true
}
