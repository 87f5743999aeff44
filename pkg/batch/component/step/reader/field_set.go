package reader

import "fmt"

// FieldSet is one parsed line of a delimited file. Values are positional:
// Values[i] belongs to Names[i].
type FieldSet struct {
	Names  []string
	Values []string
	// LineNumber is the 1-based line the record started on.
	LineNumber int
}

// newFieldSet aligns values with names: missing trailing values become empty
// strings and extra values are dropped.
func newFieldSet(names, values []string, line int) FieldSet {
	aligned := make([]string, len(names))
	copy(aligned, values)
	return FieldSet{Names: names, Values: aligned, LineNumber: line}
}

// Get returns the value of the named field, or "" if there is no such field.
func (fs FieldSet) Get(name string) string {
	for i, n := range fs.Names {
		if n == name && i < len(fs.Values) {
			return fs.Values[i]
		}
	}
	return ""
}

// ToMap returns the field values keyed by name.
func (fs FieldSet) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(fs.Names))
	for i, n := range fs.Names {
		if i < len(fs.Values) {
			m[n] = fs.Values[i]
		} else {
			m[n] = ""
		}
	}
	return m
}

func (fs FieldSet) String() string {
	return fmt.Sprintf("line %d: %v", fs.LineNumber, fs.Values)
}
