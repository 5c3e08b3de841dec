package sefs

// refCount is Go's substitute for Rust's Arc/Weak reference counting: Go's
// tracing GC collects pointer cycles just fine, so INodeImpl and SEFS can
// hold ordinary strong pointers to each other without leaking. What the
// engine actually needs from "drop the last strong handle" is not memory
// reclamation but a well-defined moment to run sync-then-maybe-delete, so
// that moment is tracked explicitly instead.
//
// Adapted from gcsfuse's lookupCount (fs/inode/lookup_count.go): destroy is
// invoked exactly once, when the count returns to zero. Callers must hold
// whatever lock guards the embedding struct's other fields while calling
// Acquire/Release, since destroy typically touches them too.
type refCount struct {
	count   uint64
	destroy func() error
}

// Acquire records one more outstanding handle.
func (rc *refCount) Acquire() {
	rc.count++
}

// Release records one handle going away, running destroy and reporting
// true if the count reached zero.
func (rc *refCount) Release() (destroyed bool, err error) {
	if rc.count == 0 {
		panic("sefs: refCount released more times than acquired")
	}
	rc.count--
	if rc.count == 0 {
		err = rc.destroy()
		destroyed = true
	}
	return
}

// Count reports the current outstanding handle count.
func (rc *refCount) Count() uint64 {
	return rc.count
}
