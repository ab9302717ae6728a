package script

import (
	"encoding/json"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// newSandboxedVM creates a VM with only the safe standard libraries and the
// lens table.
func newSandboxedVM(host Host, engine *Engine) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       128,
		RegistrySize:        2048,
		RegistryMaxSize:     256 * 1024,
		RegistryGrowStep:    32,
		MinimizeStackMemory: true,
	})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.OsLibName, lua.OpenOs},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	pruneOS(L)

	for _, name := range []string{"dofile", "loadfile", "require"} {
		L.SetGlobal(name, lua.LNil)
	}

	injectLensTable(L, host, engine)
	return L
}

// pruneOS keeps only os.time, os.date and os.clock.
func pruneOS(L *lua.LState) {
	osTbl, ok := L.GetGlobal("os").(*lua.LTable)
	if !ok {
		return
	}
	keep := map[string]bool{"time": true, "date": true, "clock": true}
	var drop []string
	osTbl.ForEach(func(key, _ lua.LValue) {
		if ks, ok := key.(lua.LString); ok && !keep[string(ks)] {
			drop = append(drop, string(ks))
		}
	})
	for _, k := range drop {
		osTbl.RawSetString(k, lua.LNil)
	}
}

func injectLensTable(L *lua.LState, host Host, engine *Engine) {
	t := L.NewTable()

	t.RawSetString("emit", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if host != nil {
			host.Emit(name, collectArgs(L, 2)...)
		}
		return 0
	}))
	t.RawSetString("trigger", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		n := 0
		if host != nil {
			n = host.Trigger(name, collectArgs(L, 2)...)
		}
		L.Push(lua.LNumber(n))
		return 1
	}))
	t.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		log.Infof("lua: %s", L.CheckString(1))
		return 0
	}))
	t.RawSetString("app_name", L.NewFunction(func(L *lua.LState) int {
		name := ""
		if host != nil {
			name = host.Name()
		}
		L.Push(lua.LString(name))
		return 1
	}))
	t.RawSetString("commands", L.NewFunction(func(L *lua.LState) int {
		tbl := L.NewTable()
		for i, name := range engine.Commands() {
			tbl.RawSetInt(i+1, lua.LString(name))
		}
		L.Push(tbl)
		return 1
	}))
	t.RawSetString("json_encode", L.NewFunction(jsonEncodeFn))
	t.RawSetString("json_decode", L.NewFunction(jsonDecodeFn))

	L.SetGlobal("lens", t)
}

func collectArgs(L *lua.LState, start int) []any {
	args := []any{}
	for i := start; i <= L.GetTop(); i++ {
		args = append(args, luaToGo(L.Get(i)))
	}
	return args
}

func jsonDecodeFn(L *lua.LState) int {
	var v any
	if err := json.Unmarshal([]byte(L.CheckString(1)), &v); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(goToLua(L, v))
	L.Push(lua.LNil)
	return 2
}

func jsonEncodeFn(L *lua.LState) int {
	data, err := json.Marshal(luaToGo(L.CheckAny(1)))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(string(data)))
	L.Push(lua.LNil)
	return 2
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

func luaToGo(lv lua.LValue) any {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.MaxN(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGo(v.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any)
		v.ForEach(func(key, val lua.LValue) {
			m[key.String()] = luaToGo(val)
		})
		return m
	default:
		return v.String()
	}
}
