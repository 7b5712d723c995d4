// Package iconcache keeps item thumbnails cached on local disk. A Coordinator
// owns a vital/idle work queue pair and a fixed pool of workers; each worker
// drains vital requests before idle ones and runs the refresh of one Entry:
// a conditional fetch keyed by the entry's ETag/Last-Modified validators, a
// ".part" download, and a rename into place. Entry fields visible to the
// owning item are only touched inside the item's read or change scopes, and
// at most one refresh per entry is in flight at any time.
package iconcache
