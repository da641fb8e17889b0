package manifest

import (
	lua "github.com/yuin/gopher-lua"
)

// sandboxLuaVM restricts a Lua VM so manifests stay declarative.
// Removes anything that could execute commands, touch the filesystem,
// or load external code. string, table, and math remain available.
func sandboxLuaVM(L *lua.LState) {
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)

	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)

	// debug could be used to reach past the sandbox
	L.SetGlobal("debug", lua.LNil)
}

// newSandboxedVM creates the Lua state manifests are parsed in.
func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	sandboxLuaVM(L)
	return L
}
