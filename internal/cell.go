package internal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Cell is a board coordinate. On the wire it is a [row, col] pair; as a map
// key (and in the legacy client format) it is the string "row,col".
type Cell struct {
	Row int
	Col int
}

func (c Cell) String() string {
	return strconv.Itoa(c.Row) + "," + strconv.Itoa(c.Col)
}

func ParseCell(s string) (Cell, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return Cell{}, fmt.Errorf("cell %q: want \"row,col\"", s)
	}
	row, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Cell{}, fmt.Errorf("cell %q: bad row: %w", s, err)
	}
	col, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Cell{}, fmt.Errorf("cell %q: bad col: %w", s, err)
	}
	if row < 0 || col < 0 {
		return Cell{}, fmt.Errorf("cell %q: negative coordinate", s)
	}
	return Cell{Row: row, Col: col}, nil
}

func (c Cell) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cell) UnmarshalText(text []byte) error {
	parsed, err := ParseCell(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{c.Row, c.Col})
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("cell: want 2 coordinates, got %d", len(pair))
		}
		if pair[0] < 0 || pair[1] < 0 {
			return fmt.Errorf("cell: negative coordinate")
		}
		*c = Cell{Row: pair[0], Col: pair[1]}
		return nil
	}

	var legacy string
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("cell: want [row, col] or \"row,col\"")
	}
	return c.UnmarshalText([]byte(legacy))
}
