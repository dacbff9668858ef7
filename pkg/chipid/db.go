package chipid

import (
	"sort"
	"strconv"
	"strings"
)

// db is the in-memory chip database
var db = make(map[uint16]ChipInfo)

// register adds entries for one family
func register(family, core string, parts map[uint16]string) {
	for id, name := range parts {
		db[id] = ChipInfo{
			ID:     id,
			Name:   name,
			Family: family,
			Core:   core,
			Known:  true,
		}
	}
}

// Lookup returns the description of id. IDs missing from the database
// return a ChipInfo with Known unset.
func Lookup(id uint16) ChipInfo {
	if info, ok := db[id]; ok {
		return info
	}
	if id == Unknown {
		return ChipInfo{Name: "Unresponsive"}
	}
	return ChipInfo{ID: id, Name: "Unknown device"}
}

// All returns every known chip ordered by ID.
func All() []ChipInfo {
	out := make([]ChipInfo, 0, len(db))
	for _, info := range db {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Parse reads a chip ID given in hex ("0x410", "410") or as a known part
// name such as "STM32F40x/41x". Names are matched case-insensitively.
func Parse(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	for _, info := range db {
		if strings.EqualFold(info.Name, s) {
			return info.ID, nil
		}
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, &ParseError{Input: s}
	}
	return uint16(v), nil
}

// ParseError reports a chip ID that is neither hex nor a known name.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return "invalid chip id " + strconv.Quote(e.Input)
}
