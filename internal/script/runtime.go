// Package script runs user Lua hooks over imported groups.
package script

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/geo"
	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/logger"
)

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Runtime manages the Lua interpreter and the mapcircle API.
// A Runtime is safe for concurrent use; calls are serialized.
type Runtime struct {
	L            *lua.LState
	mu           sync.Mutex
	processGroup lua.LValue
	processPoint lua.LValue
}

// NewRuntime creates a Lua runtime with the mapcircle module registered
func NewRuntime() *Runtime {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	r := &Runtime{L: L}
	r.registerAPI()
	return r
}

// Close releases Lua resources
func (r *Runtime) Close() {
	r.L.Close()
}

// registerAPI registers the mapcircle global table
func (r *Runtime) registerAPI() {
	mc := r.L.NewTable()
	mc.RawSetString("version", lua.LString("1.0.0"))
	mc.RawSetString("default_radius", lua.LNumber(kml.DefaultRadius))

	palette := r.L.NewTable()
	for i, c := range kml.DefaultPalette {
		palette.RawSetInt(i+1, lua.LString(c))
	}
	mc.RawSetString("palette", palette)

	r.L.SetGlobal("mapcircle", mc)
	RegisterTransforms(r.L)

	r.L.SetGlobal("print", r.L.NewFunction(r.luaPrint))
}

// LoadFile loads and executes a Lua script file
func (r *Runtime) LoadFile(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load Lua file: %w", err)
	}
	r.extractCallbacks()
	return nil
}

// LoadString loads and executes Lua code from a string
func (r *Runtime) LoadString(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.L.DoString(code); err != nil {
		return fmt.Errorf("failed to load Lua code: %w", err)
	}
	r.extractCallbacks()
	return nil
}

// extractCallbacks picks up hooks defined on the mapcircle table
func (r *Runtime) extractCallbacks() {
	mc := r.L.GetGlobal("mapcircle")
	if tbl, ok := mc.(*lua.LTable); ok {
		r.processGroup = tbl.RawGetString("process_group")
		r.processPoint = tbl.RawGetString("process_point")
	}
}

// HasGroupHook returns true if the script defines mapcircle.process_group
func (r *Runtime) HasGroupHook() bool {
	return r.processGroup != nil && r.processGroup.Type() == lua.LTFunction
}

// HasPointHook returns true if the script defines mapcircle.process_point
func (r *Runtime) HasPointHook() bool {
	return r.processPoint != nil && r.processPoint.Type() == lua.LTFunction
}

// Apply runs the hooks over every group of the result, in place.
//
// process_group(g) receives {id, name, color, radius, points, polygons, center}
// where points and polygons are counts. Returning false drops the group; a
// table may override name, color and radius; nil keeps the group unchanged.
//
// process_point(p, g) receives {name, lat, lng} and the group table. Returning
// false drops the point; a table may override its name.
func (r *Runtime) Apply(res *kml.Result) error {
	if res == nil || (!r.HasGroupHook() && !r.HasPointHook()) {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	log := logger.Named("script")
	kept := make([]kml.Group, 0, len(res.Groups))
	dropped := 0

	for _, g := range res.Groups {
		keep, err := r.applyGroup(&g)
		if err != nil {
			return fmt.Errorf("lua process_group error for group %q: %w", g.Name, err)
		}
		if !keep {
			dropped++
			continue
		}
		if r.HasPointHook() {
			if err := r.applyPoints(&g); err != nil {
				return fmt.Errorf("lua process_point error for group %q: %w", g.Name, err)
			}
		}
		kept = append(kept, g)
	}

	res.Groups = kept
	log.Debug("Applied Lua hooks", zap.Int("groups", len(kept)), zap.Int("dropped", dropped))
	return nil
}

func (r *Runtime) applyGroup(g *kml.Group) (bool, error) {
	if !r.HasGroupHook() {
		return true, nil
	}
	ret, err := r.call(r.processGroup, r.groupToLua(g))
	if err != nil {
		return false, err
	}

	switch v := ret.(type) {
	case *lua.LNilType:
		return true, nil
	case lua.LBool:
		return bool(v), nil
	case *lua.LTable:
		if name, ok := v.RawGetString("name").(lua.LString); ok && name != "" {
			g.Name = string(name)
		}
		if color, ok := v.RawGetString("color").(lua.LString); ok {
			if !hexColor.MatchString(string(color)) {
				return false, fmt.Errorf("invalid color %q (want #RRGGBB)", string(color))
			}
			g.Color = strings.ToUpper(string(color))
		}
		if radius, ok := v.RawGetString("radius").(lua.LNumber); ok {
			if radius <= 0 {
				return false, fmt.Errorf("radius must be positive, got %v", radius)
			}
			g.DefaultRadius = int(radius)
		}
		return true, nil
	default:
		return false, fmt.Errorf("process_group must return nil, a boolean or a table, got %s", ret.Type())
	}
}

func (r *Runtime) applyPoints(g *kml.Group) error {
	groupTbl := r.groupToLua(g)
	points := make([]kml.Point, 0, len(g.Points))

	for _, p := range g.Points {
		pt := r.L.NewTable()
		pt.RawSetString("name", lua.LString(p.Name))
		pt.RawSetString("lat", lua.LNumber(p.Lat))
		pt.RawSetString("lng", lua.LNumber(p.Lng))

		ret, err := r.call(r.processPoint, pt, groupTbl)
		if err != nil {
			return err
		}
		switch v := ret.(type) {
		case *lua.LNilType:
		case lua.LBool:
			if !bool(v) {
				continue
			}
		case *lua.LTable:
			if name, ok := v.RawGetString("name").(lua.LString); ok && name != "" {
				p.Name = string(name)
			}
		default:
			return fmt.Errorf("process_point must return nil, a boolean or a table, got %s", ret.Type())
		}
		points = append(points, p)
	}

	g.Points = points
	return nil
}

// call invokes a Lua function with one return value
func (r *Runtime) call(fn lua.LValue, args ...lua.LValue) (lua.LValue, error) {
	if err := r.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		return nil, err
	}
	ret := r.L.Get(-1)
	r.L.Pop(1)
	return ret, nil
}

// groupToLua converts a group summary to a Lua table
func (r *Runtime) groupToLua(g *kml.Group) *lua.LTable {
	tbl := r.L.NewTable()
	tbl.RawSetString("id", lua.LString(g.ID))
	tbl.RawSetString("name", lua.LString(g.Name))
	tbl.RawSetString("color", lua.LString(g.Color))
	tbl.RawSetString("radius", lua.LNumber(g.DefaultRadius))
	tbl.RawSetString("points", lua.LNumber(len(g.Points)))
	tbl.RawSetString("polygons", lua.LNumber(len(g.Polygons)))

	if len(g.Points) > 0 {
		c := geo.Centroid([]kml.Group{*g})
		center := r.L.NewTable()
		center.RawSetString("lat", lua.LNumber(c[0]))
		center.RawSetString("lng", lua.LNumber(c[1]))
		tbl.RawSetString("center", center)
	}
	return tbl
}

// luaPrint routes print output to the debug log
func (r *Runtime) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	logger.Named("script").Debug("Lua print", zap.String("message", strings.Join(parts, "\t")))
	return 0
}
