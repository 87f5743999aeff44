package migration

import (
	"embed"
	"io/fs"
)

//go:embed resource
var frameworkMigrations embed.FS

// FrameworkFS returns the batch metadata migrations, one directory per database type.
func FrameworkFS() fs.FS {
	sub, err := fs.Sub(frameworkMigrations, "resource")
	if err != nil {
		panic(err)
	}
	return sub
}
