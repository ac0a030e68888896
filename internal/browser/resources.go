package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceFilter is the set of blocked resource types, keyed by the
// config names (images, fonts, media, stylesheets) or raw CDP type names.
type resourceFilter map[string]bool

func newResourceFilter(types []string) resourceFilter {
	f := make(resourceFilter, len(types))
	for _, t := range types {
		f[strings.ToLower(t)] = true
	}
	return f
}

func (f resourceFilter) blocks(resType proto.NetworkResourceType) bool {
	lower := strings.ToLower(string(resType))
	switch lower {
	case "image":
		return f["images"]
	case "font":
		return f["fonts"]
	case "media":
		return f["media"]
	case "stylesheet":
		return f["stylesheets"]
	}
	return f[lower]
}

// blockResources fails every request whose type f blocks.
func blockResources(page *rod.Page, f resourceFilter) {
	router := page.HijackRequests()
	router.MustAdd("*", func(ctx *rod.Hijack) {
		if f.blocks(ctx.Request.Type()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}
