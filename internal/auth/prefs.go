package auth

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/viper"
)

// Prefs is the small pile of per-user state that isn't a credential: team
// aliases, each team's last-used channel, the debug flag. Backed by a YAML
// file via viper; read once at startup, written through on every change.
type Prefs struct {
	mu sync.Mutex
	v  *viper.Viper
}

func NewPrefs(path string) (*Prefs, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		// A prefs file that doesn't exist yet is fine; anything else
		// (unreadable, malformed) is worth failing loudly on.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read prefs: %w", err)
		}
	}
	return &Prefs{v: v}, nil
}

func (p *Prefs) Aliases(teamKey string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetStringSlice("teams." + teamKey + ".aliases")
}

func (p *Prefs) SetAliases(teamKey string, aliases []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v.Set("teams."+teamKey+".aliases", aliases)
	return p.flush()
}

func (p *Prefs) LastChannel(teamKey string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetString("teams." + teamKey + ".lastchannel")
}

func (p *Prefs) SetLastChannel(teamKey, channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v.Set("teams."+teamKey+".lastchannel", channelID)
	return p.flush()
}

func (p *Prefs) Debug() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetBool("debug")
}

func (p *Prefs) SetDebug(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v.Set("debug", on)
	return p.flush()
}

func (p *Prefs) flush() error {
	if err := p.v.WriteConfig(); err != nil {
		// First write: the file doesn't exist yet.
		if err2 := p.v.SafeWriteConfig(); err2 != nil {
			return fmt.Errorf("write prefs: %w", err)
		}
	}
	return nil
}
