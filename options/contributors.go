package options

import (
	"slices"

	"github.com/ruteri/wechatpay-backend/interfaces"
)

// Contributors is the ordered contributor list assembled during startup.
// Position 0 has the highest priority. It is not safe for concurrent use;
// resolution works on the snapshot taken by NewResolver.
type Contributors struct {
	list []interfaces.OptionsContributor
}

func NewContributors(contributors ...interfaces.OptionsContributor) *Contributors {
	c := &Contributors{}
	for _, contributor := range contributors {
		c.Add(contributor)
	}
	return c
}

// Exists reports whether a contributor with name is registered.
func (c *Contributors) Exists(name string) bool {
	return c.index(name) >= 0
}

// Add appends contributor unless one with the same name exists.
func (c *Contributors) Add(contributor interfaces.OptionsContributor) bool {
	if c.Exists(contributor.Name()) {
		return false
	}
	c.list = append(c.list, contributor)
	return true
}

// Insert places contributor at position i unless one with the same name exists.
// Positions past the end append.
func (c *Contributors) Insert(i int, contributor interfaces.OptionsContributor) bool {
	if c.Exists(contributor.Name()) {
		return false
	}
	if i < 0 {
		i = 0
	}
	if i >= len(c.list) {
		c.list = append(c.list, contributor)
		return true
	}
	c.list = slices.Insert(c.list, i, contributor)
	return true
}

// Names returns contributor names in priority order.
func (c *Contributors) Names() []string {
	names := make([]string, len(c.list))
	for i, contributor := range c.list {
		names[i] = contributor.Name()
	}
	return names
}

// Len returns the number of registered contributors.
func (c *Contributors) Len() int { return len(c.list) }

func (c *Contributors) index(name string) int {
	for i, contributor := range c.list {
		if contributor.Name() == name {
			return i
		}
	}
	return -1
}

func (c *Contributors) remove(name string) interfaces.OptionsContributor {
	i := c.index(name)
	if i < 0 {
		return nil
	}
	contributor := c.list[i]
	c.list = slices.Delete(c.list, i, i+1)
	return contributor
}

// ConfigureDefaultContributors registers the built-in contributors: Context
// at position 0 and Configuration last. A built-in registered earlier keeps
// its instance and is moved to its reserved position. Calling it again is a
// no-op.
func ConfigureDefaultContributors(c *Contributors, static interfaces.StaticOptionsSource) {
	ctxContributor := c.remove(ContextContributorName)
	if ctxContributor == nil {
		ctxContributor = NewContextContributor()
	}

	cfgContributor := c.remove(ConfigurationContributorName)
	if cfgContributor == nil {
		cfgContributor = NewConfigurationContributor(static)
	}

	c.Insert(0, ctxContributor)
	c.Add(cfgContributor)
}
