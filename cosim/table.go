package cosim

import "time"

// Record is one row of named metrics. Keys keep their insertion order so
// tables serialize with a stable column layout.
type Record struct {
	keys   []string
	values map[string]float64
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]float64)}
}

// Set stores v under key, appending key to the order on first use.
func (r *Record) Set(key string, v float64) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (float64, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the metric names in insertion order.
func (r *Record) Keys() []string { return r.keys }

// Len returns the number of metrics in the record.
func (r *Record) Len() int { return len(r.keys) }

// Row is one step's record within a Table.
type Row struct {
	Step   int
	Time   time.Time
	Values *Record
}

// Table is a growable, row-per-step result table. Its columns are the union
// of every appended record's keys, in first-seen order.
type Table struct {
	Name    string
	Rows    []Row
	columns []string
	seen    map[string]bool
}

// NewTable creates an empty table.
func NewTable(name string) *Table {
	return &Table{Name: name, seen: make(map[string]bool)}
}

// Append adds one row. Steps are expected in increasing order.
func (t *Table) Append(step int, at time.Time, rec *Record) {
	if rec == nil {
		rec = NewRecord()
	}
	for _, k := range rec.Keys() {
		if !t.seen[k] {
			t.seen[k] = true
			t.columns = append(t.columns, k)
		}
	}
	t.Rows = append(t.Rows, Row{Step: step, Time: at, Values: rec})
}

// Columns returns the metric columns in first-seen order.
func (t *Table) Columns() []string { return t.columns }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// InfoTable holds static, string-valued information captured once per run,
// such as element property listings or device ratings.
type InfoTable struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Dataset is everything a federate hands to its Sink at the end of a run.
type Dataset struct {
	RunID    string
	Federate string
	Start    time.Time
	Step     time.Duration
	Series   []*Table
	Info     []*InfoTable
}
