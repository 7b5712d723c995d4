// Package server hosts the Fiber HTTP surface of the icon cache: item listing,
// cached icon delivery and explicit refresh requests. Requests for an icon
// that is not cached yet schedule a vital refresh and answer 404 so the
// client can retry. Diagnostics under /-/ live in the routes subpackage.
package server
