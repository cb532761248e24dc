package permission

import (
	"sort"
	"sync"

	"github.com/alucardeht/hotcmd/internal/command"
)

// DefaultCapabilities are the flags a chat host hands out to members and to
// the bot account itself.
var DefaultCapabilities = []string{
	"ADMINISTRATOR",
	"ATTACH_FILES",
	"BAN_MEMBERS",
	"CONNECT",
	"CREATE_INSTANT_INVITE",
	"EMBED_LINKS",
	"KICK_MEMBERS",
	"MANAGE_CHANNELS",
	"MANAGE_GUILD",
	"MANAGE_MESSAGES",
	"MANAGE_NICKNAMES",
	"MANAGE_ROLES",
	"MANAGE_WEBHOOKS",
	"MENTION_EVERYONE",
	"MODERATE_MEMBERS",
	"MOVE_MEMBERS",
	"MUTE_MEMBERS",
	"READ_MESSAGE_HISTORY",
	"SEND_MESSAGES",
	"SPEAK",
	"USE_EXTERNAL_EMOJIS",
	"VIEW_AUDIT_LOG",
	"VIEW_CHANNEL",
}

// Catalog is the set of capability names the host recognizes.
type Catalog struct {
	mu    sync.RWMutex
	known command.CapabilitySet
}

func NewCatalog(extra ...string) *Catalog {
	known := command.NewCapabilitySet(DefaultCapabilities...)
	for c := range command.NewCapabilitySet(extra...) {
		known[c] = struct{}{}
	}
	return &Catalog{known: known}
}

func (c *Catalog) Known(name command.Capability) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.known.Has(name)
}

func (c *Catalog) Register(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range command.NewCapabilitySet(names...) {
		c.known[name] = struct{}{}
	}
}

// Unknown returns the members of set the catalog does not recognize.
func (c *Catalog) Unknown(set command.CapabilitySet) []command.Capability {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var unknown []command.Capability
	for name := range set {
		if !c.known.Has(name) {
			unknown = append(unknown, name)
		}
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
	return unknown
}
