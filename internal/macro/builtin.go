package macro

import (
	"embed"
	"io/fs"
)

// BuiltinPackage is the package name of the embedded macros.
const BuiltinPackage = "weft"

//go:embed builtin/*.sql
var builtinFS embed.FS

// BuiltinLoader returns a loader over the embedded builtin macros.
func BuiltinLoader() *Loader {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		// the embed pattern guarantees the directory exists
		panic(err)
	}
	return NewFSLoader(sub, BuiltinPackage, BuiltinPackage)
}
