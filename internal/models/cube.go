package models

import "fmt"

// Cube represents a Fabry-Perot data cube with metadata
type Cube struct {
	// Data is the cube in [plane][col][row] order as a flat array
	Data []float64

	// Planes is the number of scanning channels
	Planes int

	// Cols and Rows are the dimensions of every plane
	Cols, Rows int
}

// NewCube allocates a zero-filled cube
func NewCube(planes, cols, rows int) *Cube {
	return &Cube{
		Data:   make([]float64, planes*cols*rows),
		Planes: planes,
		Cols:   cols,
		Rows:   rows,
	}
}

// Index returns the flat offset of (plane, col, row)
func (c *Cube) Index(plane, col, row int) int {
	return (plane*c.Cols+col)*c.Rows + row
}

func (c *Cube) At(plane, col, row int) float64 {
	return c.Data[c.Index(plane, col, row)]
}

func (c *Cube) Set(plane, col, row int, v float64) {
	c.Data[c.Index(plane, col, row)] = v
}

// Profile copies the spectral profile of one pixel into dst and returns it.
// dst is reallocated when it is too short.
func (c *Cube) Profile(col, row int, dst []float64) []float64 {
	if cap(dst) < c.Planes {
		dst = make([]float64, c.Planes)
	}
	dst = dst[:c.Planes]
	stride := c.Cols * c.Rows
	off := col*c.Rows + row
	for p := 0; p < c.Planes; p++ {
		dst[p] = c.Data[p*stride+off]
	}
	return dst
}

// Plane returns a copy of a single plane as a map
func (c *Cube) Plane(plane int) *Map {
	m := NewMap(c.Cols, c.Rows)
	stride := c.Cols * c.Rows
	copy(m.Data, c.Data[plane*stride:(plane+1)*stride])
	return m
}

// Clone returns a deep copy
func (c *Cube) Clone() *Cube {
	out := NewCube(c.Planes, c.Cols, c.Rows)
	copy(out.Data, c.Data)
	return out
}

// Validate checks the cube invariants: at least one plane and a data length that
// matches the declared shape.
func (c *Cube) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil cube", ErrShapeMismatch)
	}
	if c.Planes < 1 || c.Cols < 1 || c.Rows < 1 {
		return fmt.Errorf("%w: cube shape (%d, %d, %d)", ErrShapeMismatch, c.Planes, c.Cols, c.Rows)
	}
	if len(c.Data) != c.Planes*c.Cols*c.Rows {
		return fmt.Errorf("%w: cube holds %d values, shape (%d, %d, %d) needs %d",
			ErrShapeMismatch, len(c.Data), c.Planes, c.Cols, c.Rows, c.Planes*c.Cols*c.Rows)
	}
	return nil
}

// Map is a 2D float array indexed [col][row]
type Map struct {
	Data       []float64
	Cols, Rows int
}

// NewMap allocates a zero-filled map
func NewMap(cols, rows int) *Map {
	return &Map{Data: make([]float64, cols*rows), Cols: cols, Rows: rows}
}

func (m *Map) Index(col, row int) int { return col*m.Rows + row }

func (m *Map) At(col, row int) float64 { return m.Data[col*m.Rows+row] }

func (m *Map) Set(col, row int, v float64) { m.Data[col*m.Rows+row] = v }

// Clone returns a deep copy
func (m *Map) Clone() *Map {
	out := NewMap(m.Cols, m.Rows)
	copy(out.Data, m.Data)
	return out
}

// Validate checks that the map has a non-empty shape matching its data
func (m *Map) Validate(what string) error {
	if m == nil {
		return fmt.Errorf("%w: %s is nil", ErrShapeMismatch, what)
	}
	if m.Cols < 1 || m.Rows < 1 || len(m.Data) != m.Cols*m.Rows {
		return fmt.Errorf("%w: %s has shape %dx%d with %d values", ErrShapeMismatch, what, m.Cols, m.Rows, len(m.Data))
	}
	return nil
}

// SameShape reports whether both 2D arrays have the same dimensions
func SameShape(aCols, aRows, bCols, bRows int) bool {
	return aCols == bCols && aRows == bRows
}

// CheckShape returns ErrShapeMismatch when two 2D shapes differ
func CheckShape(what string, cols, rows, wantCols, wantRows int) error {
	if !SameShape(cols, rows, wantCols, wantRows) {
		return fmt.Errorf("%w: %s is %dx%d, expected %dx%d", ErrShapeMismatch, what, cols, rows, wantCols, wantRows)
	}
	return nil
}

// Mask is a 2D binary array; true marks an unreliable pixel
type Mask struct {
	Data       []bool
	Cols, Rows int
}

func NewMask(cols, rows int) *Mask {
	return &Mask{Data: make([]bool, cols*rows), Cols: cols, Rows: rows}
}

func (m *Mask) At(col, row int) bool { return m.Data[col*m.Rows+row] }

func (m *Mask) Set(col, row int, v bool) { m.Data[col*m.Rows+row] = v }

// Count returns how many pixels are flagged
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Float converts the mask to a 0/1 map for export
func (m *Mask) Float() *Map {
	out := NewMap(m.Cols, m.Rows)
	for i, v := range m.Data {
		if v {
			out.Data[i] = 1
		}
	}
	return out
}

// OrderMap holds the interference order offset of every pixel
type OrderMap struct {
	Data       []int
	Cols, Rows int
}

func NewOrderMap(cols, rows int) *OrderMap {
	return &OrderMap{Data: make([]int, cols*rows), Cols: cols, Rows: rows}
}

func (o *OrderMap) At(col, row int) int { return o.Data[col*o.Rows+row] }

func (o *OrderMap) Set(col, row int, v int) { o.Data[col*o.Rows+row] = v }

// Float converts the order map to a float map for export
func (o *OrderMap) Float() *Map {
	out := NewMap(o.Cols, o.Rows)
	for i, v := range o.Data {
		out.Data[i] = float64(v)
	}
	return out
}
