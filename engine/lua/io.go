package lua

import (
	"bufio"
	"io"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/cutpoint/pluginhost/sandbox"
)

// installGuardedIO publishes an io table whose every path argument is
// resolved through the sandbox path policy before touching the
// filesystem. Only installed when at least one root is allowed.
func installGuardedIO(L *lua.LState, guard *sandbox.Guard) {
	ioMod := L.NewTable()
	fileMT := fileMetatable(L)

	L.SetField(ioMod, "open", L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(1)
		mode := L.OptString(2, "r")

		resolved, err := guard.CheckPath(path)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		flag, ok := openFlag(mode)
		if !ok {
			L.ArgError(2, "invalid mode")
			return 0
		}

		f, err := os.OpenFile(resolved, flag, 0o644)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		ud := L.NewUserData()
		ud.Value = f
		L.SetMetatable(ud, fileMT)
		L.Push(ud)
		return 1
	}))

	L.SetField(ioMod, "lines", L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(1)

		resolved, err := guard.CheckPath(path)
		if err != nil {
			L.RaiseError("cannot open file: %s", err.Error())
			return 0
		}
		f, err := os.Open(resolved)
		if err != nil {
			L.RaiseError("cannot open file: %s", err.Error())
			return 0
		}
		scanner := bufio.NewScanner(f)

		L.Push(L.NewFunction(func(L *lua.LState) int {
			if !scanner.Scan() {
				_ = f.Close()
				return 0
			}
			L.Push(lua.LString(scanner.Text()))
			return 1
		}))
		return 1
	}))

	L.SetGlobal("io", ioMod)
}

func openFlag(mode string) (int, bool) {
	switch mode {
	case "r", "rb":
		return os.O_RDONLY, true
	case "w", "wb":
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC, true
	case "a", "ab":
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND, true
	case "r+", "r+b":
		return os.O_RDWR, true
	case "w+", "w+b":
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC, true
	case "a+", "a+b":
		return os.O_RDWR | os.O_CREATE | os.O_APPEND, true
	default:
		return 0, false
	}
}

func fileMetatable(L *lua.LState) *lua.LTable {
	mt := L.NewTable()
	index := L.NewTable()

	L.SetField(index, "read", L.NewFunction(func(L *lua.LState) int {
		f := checkFile(L)
		if f == nil {
			return 0
		}
		format := L.OptString(2, "*a")
		switch format {
		case "*a", "*all":
			data, err := io.ReadAll(f)
			if err != nil {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(data))
			return 1
		case "*l", "*line":
			line, err := bufio.NewReader(f).ReadString('\n')
			if err != nil && len(line) == 0 {
				L.Push(lua.LNil)
				return 1
			}
			if n := len(line); n > 0 && line[n-1] == '\n' {
				line = line[:n-1]
			}
			L.Push(lua.LString(line))
			return 1
		default:
			L.Push(lua.LNil)
			return 1
		}
	}))

	L.SetField(index, "write", L.NewFunction(func(L *lua.LState) int {
		f := checkFile(L)
		if f == nil {
			return 0
		}
		for i := 2; i <= L.GetTop(); i++ {
			if _, err := f.WriteString(L.CheckString(i)); err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
		}
		L.Push(L.CheckUserData(1))
		return 1
	}))

	L.SetField(index, "close", L.NewFunction(func(L *lua.LState) int {
		f := checkFile(L)
		if f == nil {
			return 0
		}
		if err := f.Close(); err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	L.SetField(mt, "__index", index)
	return mt
}

func checkFile(L *lua.LState) *os.File {
	ud := L.CheckUserData(1)
	f, ok := ud.Value.(*os.File)
	if !ok {
		L.ArgError(1, "expected file")
		return nil
	}
	return f
}
