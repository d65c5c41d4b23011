// Package appfs embeds the files the application ships with.
package appfs

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql assets assets/templates/email/_*
var FS embed.FS

const (
	MigrationsDir     = "migrations"
	EmailTemplatesDir = "assets/templates/email"
	CommonPasswordsGZ = "assets/common-passwords.txt.gz"
)

// EmailTemplates returns the e-mail templates directory.
func EmailTemplates() fs.FS {
	sub, err := fs.Sub(FS, EmailTemplatesDir)
	if err != nil {
		panic(err)
	}
	return sub
}
