package bulksync

// fieldSet is an order-preserving, deduplicating set of column names. The
// insert and update column lists are computed with set algebra over these,
// and the preserved order keeps the generated SQL deterministic.
type fieldSet struct {
	names []string
	index map[string]struct{}
}

func newFieldSet(names ...string) fieldSet {
	fs := fieldSet{index: make(map[string]struct{}, len(names))}
	for _, name := range names {
		fs.add(name)
	}
	return fs
}

func (fs *fieldSet) add(name string) {
	if _, ok := fs.index[name]; ok {
		return
	}
	fs.index[name] = struct{}{}
	fs.names = append(fs.names, name)
}

func (fs fieldSet) Contains(name string) bool {
	_, ok := fs.index[name]
	return ok
}

func (fs fieldSet) Len() int {
	return len(fs.names)
}

// Names returns the member names in insertion order.
func (fs fieldSet) Names() []string {
	return append([]string(nil), fs.names...)
}

// Union returns the members of fs followed by the members of other that are
// not already present.
func (fs fieldSet) Union(other fieldSet) fieldSet {
	out := newFieldSet(fs.names...)
	for _, name := range other.names {
		out.add(name)
	}
	return out
}

// Difference returns the members of fs that are not members of other.
func (fs fieldSet) Difference(other fieldSet) fieldSet {
	out := newFieldSet()
	for _, name := range fs.names {
		if !other.Contains(name) {
			out.add(name)
		}
	}
	return out
}
