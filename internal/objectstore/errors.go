package objectstore

import "github.com/zeebo/errs"

// Error classes for the storage layer. Callers branch on these with
// Class.Has instead of string matching.
var (
	// BadPath: write attempted to a reserved or malformed path. Not
	// retryable.
	BadPath = errs.Class("bad storage path")

	// NoSuchKey: the object is absent in both compressed and legacy
	// form.
	NoSuchKey = errs.Class("no such key")

	// Transport: transient backend failure; the store retries these up
	// to three times before surfacing them.
	Transport = errs.Class("storage transport")

	// DeleteFailed: a delete call did not produce a deletion marker, or
	// a batch delete reported per-object failures.
	DeleteFailed = errs.Class("storage delete")
)
