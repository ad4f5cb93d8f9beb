package api

import (
	"embed"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
)

// Embedded home page. The form posts back to / with a url query, which the
// root handler turns into a token allocation and redirect.
//
//go:embed web/index.html
var indexHTML []byte

//go:embed web/assets/*
var webAssets embed.FS

// MountWeb serves the embedded static assets under /assets.
func MountWeb(r *gin.Engine) {
	fs, err := static.EmbedFolder(webAssets, "web/assets")
	if err != nil {
		panic("failed to mount embedded web assets: " + err.Error())
	}
	r.Use(static.Serve("/assets", fs))
}
