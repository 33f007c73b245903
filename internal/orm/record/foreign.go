package record

import "fmt"

// Foreign is the value of a relationship field: either a bare reference to a
// record id or an embedded record. Which variant a read produces depends on
// the fetch plan, not on the schema.
type Foreign struct {
	id  int64
	rec *Record
}

// Reference returns a reference-only foreign value
func Reference(id int64) Foreign {
	return Foreign{id: id}
}

// Embedded returns a foreign value carrying the related record
func Embedded(r *Record) Foreign {
	return Foreign{rec: r}
}

// IsEmbedded reports whether the related record is carried inline
func (f Foreign) IsEmbedded() bool {
	return f.rec != nil
}

// ID returns the referenced id, taken from the embedded record when present
func (f Foreign) ID() int64 {
	if f.rec != nil {
		return f.rec.ID()
	}
	return f.id
}

// Record returns the embedded record, or nil for a reference
func (f Foreign) Record() *Record {
	return f.rec
}

// Equal compares two foreign values variant by variant
func (f Foreign) Equal(o Foreign) bool {
	if f.IsEmbedded() != o.IsEmbedded() {
		return false
	}
	if f.rec != nil {
		return f.rec.Equal(o.rec)
	}
	return f.id == o.id
}

// String implements fmt.Stringer
func (f Foreign) String() string {
	if f.rec != nil {
		return fmt.Sprintf("embedded(%s#%d)", f.rec.Model(), f.rec.ID())
	}
	return fmt.Sprintf("ref(%d)", f.id)
}
