package value

// Map is an insertion-ordered string-keyed map. Setting an existing key keeps
// its original position.
type Map struct {
	keys []string
	vals []Value
	idx  map[string]int
}

func NewMap() *Map { return &Map{idx: map[string]int{}} }

func (m *Map) Set(key string, v Value) {
	if i, ok := m.idx[key]; ok {
		m.vals[i] = v
		return
	}
	m.idx[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, v)
}

func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	i, ok := m.idx[key]
	if !ok {
		return Value{}, false
	}
	return m.vals[i], true
}

// Delete removes key, shifting later entries down.
func (m *Map) Delete(key string) {
	i, ok := m.idx[key]
	if !ok {
		return
	}
	delete(m.idx, key)
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	for j := i; j < len(m.keys); j++ {
		m.idx[m.keys[j]] = j
	}
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns a copy of the keys in order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Range calls fn for each entry in order until fn returns false.
func (m *Map) Range(fn func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for i, k := range m.keys {
		if !fn(k, m.vals[i]) {
			return
		}
	}
}
