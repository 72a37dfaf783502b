package expr

import (
	"log"
	"sync"

	"github.com/cockroachdb/errors"
)

// Resource is something a ResourceOwner releases on its owner's behalf.
type Resource interface {
	ResourceName() string
	ReleaseResource() error
}

// ResourceOwner tracks resources acquired during one session so that they
// are released exactly once, whether the session commits or aborts.
type ResourceOwner struct {
	name      string
	mu        sync.Mutex
	resources []Resource
	released  bool
}

func NewResourceOwner(name string) *ResourceOwner {
	return &ResourceOwner{name: name}
}

func (o *ResourceOwner) Name() string {
	return o.name
}

// Remember registers r. Remembering on a released owner releases r at once.
func (o *ResourceOwner) Remember(r Resource) error {
	o.mu.Lock()
	if o.released {
		o.mu.Unlock()
		return errors.CombineErrors(
			errors.Newf("resource owner %q already released", o.name),
			r.ReleaseResource())
	}
	o.resources = append(o.resources, r)
	o.mu.Unlock()
	return nil
}

// Forget drops r without releasing it.
func (o *ResourceOwner) Forget(r Resource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, x := range o.resources {
		if x == r {
			o.resources = append(o.resources[:i], o.resources[i+1:]...)
			return
		}
	}
}

// Len is the number of resources still owned.
func (o *ResourceOwner) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.resources)
}

// Release releases every remembered resource, newest first. On commit a
// resource still owned is a leak and is reported.
func (o *ResourceOwner) Release(isCommit bool) error {
	o.mu.Lock()
	rs := o.resources
	o.resources = nil
	o.released = true
	o.mu.Unlock()

	var err error
	for i := len(rs) - 1; i >= 0; i-- {
		if isCommit {
			log.Printf("resource owner %s: %s was not released before commit", o.name, rs[i].ResourceName())
		}
		err = errors.CombineErrors(err, rs[i].ReleaseResource())
	}
	return err
}
