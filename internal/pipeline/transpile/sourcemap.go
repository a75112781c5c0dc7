package transpile

import (
	"fmt"

	"github.com/go-sourcemap/sourcemap"
)

// Mapper translates locations in transpiled code back to the component
// source it came from.
type Mapper struct {
	consumer *sourcemap.Consumer
}

func NewMapper(path string, raw []byte) (*Mapper, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: empty source map", path)
	}
	c, err := sourcemap.Parse(path+".map", raw)
	if err != nil {
		return nil, fmt.Errorf("%s: parse source map: %w", path, err)
	}
	return &Mapper{consumer: c}, nil
}

// Original maps a 1-based generated line and column to the 1-based original
// position.
func (m *Mapper) Original(line, column int) (int, int, bool) {
	if m == nil || line <= 0 {
		return 0, 0, false
	}
	genCol := column - 1
	if genCol < 0 {
		genCol = 0
	}
	_, _, origLine, origCol, ok := m.consumer.Source(line, genCol)
	if !ok || origLine <= 0 {
		return 0, 0, false
	}
	return origLine, origCol + 1, true
}
