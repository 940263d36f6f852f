package process

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/jnesss/ttrace/packet"
)

// NameCache remembers task names seen in scheduler switches so message
// packets, which only carry a pid, can be printed with a name.
type NameCache struct {
	cache *lru.Cache
}

// NewNameCache creates a size-constrained pid to name cache with LRU eviction
func NewNameCache(size int) (*NameCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &NameCache{cache: cache}, nil
}

// Observe records the task names a decoded packet reveals.
func (nc *NameCache) Observe(d *packet.Decoded) {
	sw, ok := d.Payload.(packet.SchedulerSwitch)
	if !ok {
		return
	}
	if sw.Prev.Name != "" {
		nc.cache.Add(int(sw.Prev.PID), sw.Prev.Name)
	}
	if sw.Next.Name != "" {
		nc.cache.Add(int(sw.Next.PID), sw.Next.Name)
	}
}

// Set records a name for pid.
func (nc *NameCache) Set(pid int, name string) {
	nc.cache.Add(pid, name)
}

// Lookup returns the last name seen for pid.
func (nc *NameCache) Lookup(pid int) (string, bool) {
	v, found := nc.cache.Get(pid)
	if !found {
		return "", false
	}
	return v.(string), true
}

// Len returns the number of cached names.
func (nc *NameCache) Len() int {
	return nc.cache.Len()
}
