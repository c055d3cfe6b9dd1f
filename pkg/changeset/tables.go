package changeset

// Op is the kind of row operation.
type Op string

const (
	// OpCreate inserts a new row, replacing any existing row with the same key.
	OpCreate Op = "create"

	// OpUpdate merges columns into an existing row.
	OpUpdate Op = "update"
)

// RowOp is one pending operation against an entity row.
type RowOp struct {
	Op      Op
	Kind    string
	Key     string
	Columns map[string]Value
}

// Tables accumulates row operations for one block. Operations against the
// same (kind, key) pair coalesce: an update following a pending create folds
// its columns into the create, repeated updates fold into the first pending
// update, with later column writes winning. Distinct rows keep their first
// write order.
type Tables struct {
	ops   []*RowOp
	index map[string]*RowOp
}

// NewTables creates an empty operation set.
func NewTables() *Tables {
	return &Tables{index: make(map[string]*RowOp)}
}

// Row is a builder over a pending row operation.
type Row struct {
	op *RowOp
}

// Set writes a column value on the pending operation, overwriting any
// earlier write of the same column.
func (r *Row) Set(column string, v Value) *Row {
	r.op.Columns[column] = v
	return r
}

// Create stages a row creation for the given kind and key.
func (t *Tables) Create(kind, key string) *Row {
	id := kind + "\x00" + key

	if existing, ok := t.index[id]; ok {
		// A create over a pending row restarts it from scratch.
		existing.Op = OpCreate
		existing.Columns = make(map[string]Value)
		return &Row{op: existing}
	}

	op := &RowOp{Op: OpCreate, Kind: kind, Key: key, Columns: make(map[string]Value)}
	t.ops = append(t.ops, op)
	t.index[id] = op

	return &Row{op: op}
}

// Update stages a column merge into the row with the given kind and key.
// When the row was created earlier in the same block the columns fold into
// the pending create.
func (t *Tables) Update(kind, key string) *Row {
	id := kind + "\x00" + key

	if existing, ok := t.index[id]; ok {
		return &Row{op: existing}
	}

	op := &RowOp{Op: OpUpdate, Kind: kind, Key: key, Columns: make(map[string]Value)}
	t.ops = append(t.ops, op)
	t.index[id] = op

	return &Row{op: op}
}

// Has reports whether an operation is already pending for the row.
func (t *Tables) Has(kind, key string) bool {
	_, ok := t.index[kind+"\x00"+key]
	return ok
}

// Ops returns the coalesced operations in first-write order.
func (t *Tables) Ops() []RowOp {
	out := make([]RowOp, len(t.ops))
	for i, op := range t.ops {
		out[i] = *op
	}
	return out
}

// Len returns the number of pending row operations.
func (t *Tables) Len() int {
	return len(t.ops)
}
