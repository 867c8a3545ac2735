package script

import (
	"regexp"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/wegman-software/mapcircle-go/internal/kml"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// RegisterTransforms registers string and color helpers as mapcircle.transforms
func RegisterTransforms(L *lua.LState) {
	transforms := L.NewTable()

	L.SetField(transforms, "trim", L.NewFunction(luaTrim))
	L.SetField(transforms, "lower", L.NewFunction(luaLower))
	L.SetField(transforms, "upper", L.NewFunction(luaUpper))
	L.SetField(transforms, "clean_spaces", L.NewFunction(luaCleanSpaces))
	L.SetField(transforms, "truncate", L.NewFunction(luaTruncate))
	L.SetField(transforms, "starts_with", L.NewFunction(luaStartsWith))

	L.SetField(transforms, "decode_color", L.NewFunction(luaDecodeColor))
	L.SetField(transforms, "encode_color", L.NewFunction(luaEncodeColor))
	L.SetField(transforms, "palette_color", L.NewFunction(luaPaletteColor))

	mc := L.GetGlobal("mapcircle")
	if mc == lua.LNil {
		mc = L.NewTable()
		L.SetGlobal("mapcircle", mc)
	}
	L.SetField(mc.(*lua.LTable), "transforms", transforms)
}

func luaTrim(L *lua.LState) int {
	L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
	return 1
}

func luaLower(L *lua.LState) int {
	L.Push(lua.LString(strings.ToLower(L.CheckString(1))))
	return 1
}

func luaUpper(L *lua.LState) int {
	L.Push(lua.LString(strings.ToUpper(L.CheckString(1))))
	return 1
}

// luaCleanSpaces collapses runs of whitespace and trims
func luaCleanSpaces(L *lua.LState) int {
	s := whitespaceRegex.ReplaceAllString(L.CheckString(1), " ")
	L.Push(lua.LString(strings.TrimSpace(s)))
	return 1
}

// luaTruncate truncates to a maximum number of characters
func luaTruncate(L *lua.LState) int {
	s := L.CheckString(1)
	maxLen := L.CheckInt(2)

	runes := []rune(s)
	if len(runes) <= maxLen {
		L.Push(lua.LString(s))
	} else {
		L.Push(lua.LString(string(runes[:maxLen])))
	}
	return 1
}

func luaStartsWith(L *lua.LState) int {
	L.Push(lua.LBool(strings.HasPrefix(L.CheckString(1), L.CheckString(2))))
	return 1
}

// luaDecodeColor converts aabbggrr to #RRGGBB, nil when malformed
func luaDecodeColor(L *lua.LState) int {
	if c, ok := kml.DecodeColor(L.CheckString(1)); ok {
		L.Push(lua.LString(c))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

// luaEncodeColor converts #RRGGBB to ffbbggrr, nil when malformed
func luaEncodeColor(L *lua.LState) int {
	if c, ok := kml.EncodeColor(L.CheckString(1)); ok {
		L.Push(lua.LString(c))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

// luaPaletteColor returns the n-th (1-based, wrapping) default palette color
func luaPaletteColor(L *lua.LState) int {
	n := L.CheckInt(1)
	size := len(kml.DefaultPalette)
	idx := ((n-1)%size + size) % size
	L.Push(lua.LString(kml.DefaultPalette[idx]))
	return 1
}
